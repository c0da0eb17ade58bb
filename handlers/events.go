package handlers

import (
	"context"
	"strings"

	"github.com/Necroforger/dgrouter/exrouter"
	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-feedback/config"
	"github.com/cufee/botto-feedback/workflow"
	log "github.com/sirupsen/logrus"
)

// Bot - Discord event handlers of the feedback economy
type Bot struct {
	ctx        context.Context
	cfg        *config.Config
	workflow   *workflow.Workflow
	gateway    *Gateway
	dispatcher *Dispatcher
	resolver   *ReferenceResolver
	router     *exrouter.Route
}

// NewBot - Wire handlers together. ctx bounds how long events wait for a free worker.
func NewBot(ctx context.Context, cfg *config.Config, wf *workflow.Workflow, gateway *Gateway, dispatcher *Dispatcher, resolver *ReferenceResolver) *Bot {
	b := &Bot{
		ctx:        ctx,
		cfg:        cfg,
		workflow:   wf,
		gateway:    gateway,
		dispatcher: dispatcher,
		resolver:   resolver,
	}
	b.router = b.textCommands()
	return b
}

// Register - Attach handlers to a session
func (b *Bot) Register(s *discordgo.Session) {
	s.AddHandler(b.Ready)
	s.AddHandler(b.MessageCreate)
	s.AddHandler(b.InteractionCreate)
}

// Ready - Register slash commands in every configured guild
func (b *Bot) Ready(s *discordgo.Session, e *discordgo.Ready) {
	log.Infof("%s is connected!", e.User.Username)
	registerCommands(s, b.cfg.ClientID, b.cfg.Registry().Guilds())
}

// MessageCreate - Queue a posted message for the feedback workflow
func (b *Bot) MessageCreate(s *discordgo.Session, e *discordgo.MessageCreate) {
	// Ignore self
	if e.Author == nil || e.Author.ID == b.cfg.ClientID || (s.State != nil && s.State.User != nil && e.Author.ID == s.State.User.ID) {
		return
	}
	if !b.workflow.Participates(e.GuildID, e.ChannelID) {
		return
	}

	if e.Content == "ping" {
		if _, err := s.ChannelMessageSend(e.ChannelID, "pong"); err != nil {
			log.WithError(err).Warn("error sending message")
		}
	}
	if strings.HasPrefix(e.Content, b.cfg.CommandPrefix) {
		b.router.FindAndExecute(s, b.cfg.CommandPrefix, b.cfg.ClientID, e.Message)
	}

	// Commands still go through the workflow, a link behind a command needs a credit too
	m := e.Message
	queued := b.dispatcher.Enqueue(b.ctx, func(ctx context.Context) {
		b.handleMessage(ctx, m)
	})
	if !queued {
		log.WithFields(log.Fields{"channel": m.ChannelID, "message": m.ID}).Warn("dropped message, bot is shutting down")
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	msg := b.resolver.Message(m)
	outcome, err := b.workflow.HandleMessage(ctx, msg)
	logger := log.WithFields(log.Fields{"guild": m.GuildID, "channel": m.ChannelID, "user": msg.AuthorID, "message": m.ID})
	if err != nil {
		logger.WithError(err).Error("failed to process message")
		return
	}
	logger.WithField("outcome", outcome).Debug("message processed")
}

// InteractionCreate - Answer slash commands invoked in feedback channels
func (b *Bot) InteractionCreate(s *discordgo.Session, e *discordgo.InteractionCreate) {
	if e.Type != discordgo.InteractionApplicationCommand || e.GuildID == "" {
		return
	}
	name := e.ApplicationCommandData().Name
	logger := log.WithFields(log.Fields{"guild": e.GuildID, "channel": e.ChannelID, "command": name})

	text, handled, err := b.workflow.HandleCommand(name, e.GuildID, e.ChannelID)
	if err != nil {
		logger.WithError(err).Error("failed to run command")
		return
	}
	if !handled {
		return
	}
	if err := b.gateway.RespondToCommand(e.Interaction, text); err != nil {
		logger.WithError(err).Warn("cannot respond to slash command")
	}
}
