package handlers

import (
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-feedback/classifier"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

// ReferenceCacheTTL - How long a fetched referenced message is reused
const ReferenceCacheTTL = 10 * time.Minute

// FetchFunc - Load a single message over REST
type FetchFunc func(channelID, messageID string) (*discordgo.Message, error)

// ReferenceResolver - Finds the message a reply points to
type ReferenceResolver struct {
	cache *cache.Cache
	fetch FetchFunc
}

// NewReferenceResolver - Resolver backed by a TTL cache and a REST fetch
func NewReferenceResolver(fetch FetchFunc) *ReferenceResolver {
	return &ReferenceResolver{
		cache: cache.New(ReferenceCacheTTL, 2*ReferenceCacheTTL),
		fetch: fetch,
	}
}

// SessionFetch - FetchFunc using a discordgo session
func SessionFetch(s *discordgo.Session) FetchFunc {
	return func(channelID, messageID string) (*discordgo.Message, error) {
		return s.ChannelMessage(channelID, messageID)
	}
}

// Resolve - Referenced message of m, nil if there is none or it cannot be loaded
func (r *ReferenceResolver) Resolve(m *discordgo.Message) *discordgo.Message {
	if m.ReferencedMessage != nil {
		return m.ReferencedMessage
	}
	ref := m.MessageReference
	if ref == nil || ref.MessageID == "" {
		return nil
	}
	channelID := ref.ChannelID
	if channelID == "" {
		channelID = m.ChannelID
	}

	key := channelID + "/" + ref.MessageID
	if v, ok := r.cache.Get(key); ok {
		return v.(*discordgo.Message)
	}
	if r.fetch == nil {
		return nil
	}
	msg, err := r.fetch(channelID, ref.MessageID)
	if err != nil {
		// Deleted or inaccessible, the reply simply does not count
		log.WithError(err).WithFields(log.Fields{"channel": channelID, "message": ref.MessageID}).Debug("failed to fetch referenced message")
		return nil
	}
	r.cache.Set(key, msg, cache.DefaultExpiration)
	return msg
}

// Message - Classifier view of a discord message with its reference resolved
func (r *ReferenceResolver) Message(m *discordgo.Message) *classifier.Message {
	msg := toMessage(m, m.GuildID)
	if msg == nil || msg.Kind != classifier.KindReply {
		return msg
	}
	msg.Referenced = toMessage(r.Resolve(m), m.GuildID)
	return msg
}

func toMessage(m *discordgo.Message, guildID string) *classifier.Message {
	if m == nil {
		return nil
	}
	msg := &classifier.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
	}
	if msg.GuildID == "" {
		msg.GuildID = guildID
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	if m.Type == discordgo.MessageTypeReply {
		msg.Kind = classifier.KindReply
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, classifier.Attachment{Filename: a.Filename, URL: a.URL})
	}
	return msg
}
