package classifier

import (
	"net/url"
	"regexp"
	"strings"
)

// MessageKind - Structural kind of a chat message
type MessageKind int

const (
	// KindDefault - Plain message
	KindDefault MessageKind = iota
	// KindReply - Inline reply to another message
	KindReply
)

// Attachment - File attached to a message
type Attachment struct {
	Filename string
	URL      string
}

// Message - Gateway neutral view of a chat message
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	AuthorID    string
	Content     string
	Attachments []Attachment
	Kind        MessageKind
	// Referenced is the message this one replies to, nil when it could not be resolved
	Referenced *Message
}

// RE2 \b only knows ASCII word characters, the top level segment must end
// before any Unicode letter, mark, digit or connector
var linkRegex = regexp.MustCompile(`(http(s)?://)[-a-zA-Z0-9@:%._+~#=]+\.[a-z]+(?:$|[^\p{L}\p{M}\p{Nd}\p{Nl}\p{Pc}])`)

var audioExtensions = []string{".mp3", ".wav"}

// IsFeedbackRequest - Check if a message links to something or carries an audio file
func IsFeedbackRequest(msg *Message) bool {
	if msg == nil {
		return false
	}
	if linkRegex.MatchString(msg.Content) {
		return true
	}
	for _, a := range msg.Attachments {
		if isAudio(a) {
			return true
		}
	}
	return false
}

// IsFeedbackReply - Check if a message is a long enough reply to someone else's feedback request
func IsFeedbackReply(msg *Message, minLength int) bool {
	if msg == nil || msg.Kind != KindReply || len(msg.Content) <= minLength {
		return false
	}
	ref := msg.Referenced
	if ref == nil {
		return false
	}
	return IsFeedbackRequest(ref) && ref.AuthorID != msg.AuthorID
}

func isAudio(a Attachment) bool {
	name := a.Filename
	if name == "" {
		// Discord CDN links carry signing params, only the path matters
		if u, err := url.Parse(a.URL); err == nil {
			name = u.Path
		} else {
			name = a.URL
		}
	}
	for _, ext := range audioExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
