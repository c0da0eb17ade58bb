package handlers

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-feedback/classifier"
)

// Gateway - Outbound Discord actions used by the feedback workflow
type Gateway struct {
	s *discordgo.Session
}

// NewGateway - Gateway sending through s
func NewGateway(s *discordgo.Session) *Gateway {
	return &Gateway{s: s}
}

// SendReply - Reply to msg in its channel
func (g *Gateway) SendReply(msg *classifier.Message, text string, mentionAuthor bool) error {
	_, err := g.s.ChannelMessageSendComplex(msg.ChannelID, replyPayload(msg, text, mentionAuthor))
	return err
}

// DeleteMessage - Delete a message
func (g *Gateway) DeleteMessage(channelID, messageID string) error {
	return g.s.ChannelMessageDelete(channelID, messageID)
}

// RespondToCommand - Answer a slash command with a visible message
func (g *Gateway) RespondToCommand(i *discordgo.Interaction, text string) error {
	return g.s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text},
	})
}

func replyPayload(msg *classifier.Message, text string, mentionAuthor bool) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content: text,
		Reference: &discordgo.MessageReference{
			MessageID: msg.ID,
			ChannelID: msg.ChannelID,
			GuildID:   msg.GuildID,
		},
		AllowedMentions: &discordgo.MessageAllowedMentions{RepliedUser: true},
	}
	if mentionAuthor {
		send.Content = fmt.Sprintf("<@%s> %s", msg.AuthorID, text)
		send.AllowedMentions = &discordgo.MessageAllowedMentions{Users: []string{msg.AuthorID}}
	}
	return send
}
