package database

import (
	"fmt"
	"strconv"
	"time"
)

// CreditEntry - Permission to post one feedback request, earned by giving feedback
type CreditEntry struct {
	LastReply time.Time `json:"last_reply"`
}

// OpenRequest - Accepted feedback request still waiting for a reply
type OpenRequest struct {
	User    uint64 `json:"user"`
	Message uint64 `json:"msg"`
}

// NewOpenRequest - Build an open request entry from Discord snowflakes
func NewOpenRequest(userID, messageID string) (OpenRequest, error) {
	user, err := strconv.ParseUint(userID, 10, 64)
	if err != nil {
		return OpenRequest{}, fmt.Errorf("bad user id %q: %w", userID, err)
	}
	msg, err := strconv.ParseUint(messageID, 10, 64)
	if err != nil {
		return OpenRequest{}, fmt.Errorf("bad message id %q: %w", messageID, err)
	}
	return OpenRequest{User: user, Message: msg}, nil
}

// UserID - Snowflake of the request author
func (r OpenRequest) UserID() string {
	return strconv.FormatUint(r.User, 10)
}

// MessageID - Snowflake of the request message
func (r OpenRequest) MessageID() string {
	return strconv.FormatUint(r.Message, 10)
}
