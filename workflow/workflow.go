// Package workflow spends and grants feedback credits in response to chat
// events. Ledger state is the only state; each handler is a single pass with
// no retries.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cufee/botto-feedback/classifier"
	"github.com/cufee/botto-feedback/config"
	db "github.com/cufee/botto-feedback/database"
	log "github.com/sirupsen/logrus"
)

// Ledger - Credit and open request store
type Ledger interface {
	TakeCredit(userID, guildID string) (*db.CreditEntry, error)
	GrantCredit(userID, guildID string, entry db.CreditEntry) error
	AddOpenRequest(c config.Channel, req db.OpenRequest) error
	RemoveOpenRequest(c config.Channel, req db.OpenRequest) error
	ForEachOpenRequest(c config.Channel, visit func(db.OpenRequest)) error
}

// Gateway - Outbound chat actions
type Gateway interface {
	// SendReply - Answer msg. With mentionAuthor the author is mentioned in
	// the text, otherwise they are pinged through the reply itself.
	SendReply(msg *classifier.Message, text string, mentionAuthor bool) error
	DeleteMessage(channelID, messageID string) error
}

// Clock - Source of the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock - Wall clock in UTC
var SystemClock Clock = systemClock{}

// Outcome - What a message did to the ledger
type Outcome int

const (
	// Ignored - Not a request or reply, or outside a feedback channel
	Ignored Outcome = iota
	// RequestAccepted - Credit spent, request is now open
	RequestAccepted
	// RequestRejected - No valid credit, request deleted
	RequestRejected
	// FeedbackCounted - Request closed, replier got a credit
	FeedbackCounted
)

func (o Outcome) String() string {
	switch o {
	case RequestAccepted:
		return "request_accepted"
	case RequestRejected:
		return "request_rejected"
	case FeedbackCounted:
		return "feedback_counted"
	default:
		return "ignored"
	}
}

const day = 24 * time.Hour

// Workflow - Applies chat events to the credit ledger
type Workflow struct {
	ledger   Ledger
	gateway  Gateway
	clock    Clock
	registry config.Registry

	botID       string
	minMsgLen   int
	timeoutDays int64
}

// New - Build a workflow from an immutable config snapshot
func New(cfg *config.Config, ledger Ledger, gateway Gateway, clock Clock) *Workflow {
	if clock == nil {
		clock = SystemClock
	}
	return &Workflow{
		ledger:      ledger,
		gateway:     gateway,
		clock:       clock,
		registry:    cfg.Registry(),
		botID:       cfg.ClientID,
		minMsgLen:   cfg.MinMsgLen,
		timeoutDays: int64(cfg.PermissionTimeoutDays),
	}
}

// Participates - Check if a guild channel is enrolled
func (w *Workflow) Participates(guildID, channelID string) bool {
	return w.registry.Participates(guildID, channelID)
}

// HandleMessage - Classify a posted message and apply it to the ledger.
// Messages outside participating channels or from the bot are ignored.
func (w *Workflow) HandleMessage(ctx context.Context, msg *classifier.Message) (Outcome, error) {
	if msg == nil || msg.AuthorID == w.botID || !w.Participates(msg.GuildID, msg.ChannelID) {
		return Ignored, nil
	}
	if err := ctx.Err(); err != nil {
		return Ignored, err
	}

	switch {
	case classifier.IsFeedbackRequest(msg):
		return w.HandleRequest(msg)
	case classifier.IsFeedbackReply(msg, w.minMsgLen):
		return w.HandleReply(msg)
	}
	return Ignored, nil
}

// HandleRequest - Spend the author's credit on msg, or reject and delete it.
// An expired credit is consumed all the same.
func (w *Workflow) HandleRequest(msg *classifier.Message) (Outcome, error) {
	channel := config.Channel{GuildID: msg.GuildID, ChannelID: msg.ChannelID}
	entry, err := db.NewOpenRequest(msg.AuthorID, msg.ID)
	if err != nil {
		return Ignored, err
	}

	permit, err := w.ledger.TakeCredit(msg.AuthorID, msg.GuildID)
	if err != nil {
		return Ignored, fmt.Errorf("failed to take credit: %w", err)
	}

	logger := log.WithFields(log.Fields{"guild": msg.GuildID, "channel": msg.ChannelID, "user": msg.AuthorID, "message": msg.ID})

	if permit != nil && w.withinTimeout(permit.LastReply) {
		if err := w.ledger.AddOpenRequest(channel, entry); err != nil {
			return Ignored, fmt.Errorf("failed to track request: %w", err)
		}
		logger.Info("feedback request accepted")
		w.reply(msg, config.MsgRequestAccepted, false)
		return RequestAccepted, nil
	}

	if permit != nil {
		logger.WithField("last_reply", permit.LastReply).Info("feedback request rejected, credit expired")
	} else {
		logger.Info("feedback request rejected, no credit")
	}
	w.reply(msg, config.MsgRequestRejected, true)
	if err := w.gateway.DeleteMessage(msg.ChannelID, msg.ID); err != nil {
		logger.WithError(err).Warn("failed to delete feedback request")
	}
	return RequestRejected, nil
}

// HandleReply - Close the request msg answers and grant the author a credit.
// The grant only happens once the request was removed.
func (w *Workflow) HandleReply(msg *classifier.Message) (Outcome, error) {
	ref := msg.Referenced
	if ref == nil {
		return Ignored, nil
	}
	channel := config.Channel{GuildID: msg.GuildID, ChannelID: msg.ChannelID}
	entry, err := db.NewOpenRequest(ref.AuthorID, ref.ID)
	if err != nil {
		return Ignored, err
	}

	if err := w.ledger.RemoveOpenRequest(channel, entry); err != nil {
		return Ignored, fmt.Errorf("failed to close request %s: %w", ref.ID, err)
	}
	if err := w.ledger.GrantCredit(msg.AuthorID, msg.GuildID, db.CreditEntry{LastReply: w.clock.Now()}); err != nil {
		return Ignored, fmt.Errorf("failed to grant credit: %w", err)
	}

	log.WithFields(log.Fields{"guild": msg.GuildID, "channel": msg.ChannelID, "user": msg.AuthorID, "request": ref.ID}).Info("feedback counted, credit granted")
	w.reply(msg, config.MsgReplyAccepted, false)
	return FeedbackCounted, nil
}

// HandleCommand - Answer a command invoked in a channel, handled is false
// when the channel does not participate
func (w *Workflow) HandleCommand(name, guildID, channelID string) (text string, handled bool, err error) {
	if !w.Participates(guildID, channelID) {
		return "", false, nil
	}
	if name != config.OpenCommand {
		return config.MsgUnknownCommand, true, nil
	}
	text, err = w.OpenListing(config.Channel{GuildID: guildID, ChannelID: channelID})
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// OpenListing - Render the open requests of a channel
func (w *Workflow) OpenListing(channel config.Channel) (string, error) {
	var out strings.Builder
	err := w.ledger.ForEachOpenRequest(channel, func(r db.OpenRequest) {
		fmt.Fprintf(&out, "- %s from <@%s>\n", MessageLink(channel, r.MessageID()), r.UserID())
	})
	if err != nil {
		return "", err
	}
	if out.Len() == 0 {
		return config.MsgNoOpen, nil
	}
	return config.MsgOpenHeader + "\n" + out.String(), nil
}

// MessageLink - Jump link of a message
func MessageLink(channel config.Channel, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", channel.GuildID, channel.ChannelID, messageID)
}

func (w *Workflow) withinTimeout(lastReply time.Time) bool {
	days := int64(w.clock.Now().Sub(lastReply) / day)
	return days <= w.timeoutDays
}

func (w *Workflow) reply(msg *classifier.Message, text string, mentionAuthor bool) {
	if err := w.gateway.SendReply(msg, text, mentionAuthor); err != nil {
		log.WithError(err).WithFields(log.Fields{"channel": msg.ChannelID, "message": msg.ID}).Warn("failed to send reply")
	}
}
