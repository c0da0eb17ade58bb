package handlers

import (
	"github.com/Necroforger/dgrouter/exrouter"
	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-feedback/config"
	log "github.com/sirupsen/logrus"
)

// Commands - Slash commands registered in every feedback guild
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        config.OpenCommand,
			Description: config.OpenCommandDescription,
		},
	}
}

func registerCommands(s *discordgo.Session, appID string, guilds []string) {
	for _, guildID := range guilds {
		created, err := s.ApplicationCommandBulkOverwrite(appID, guildID, Commands())
		if err != nil {
			log.WithError(err).WithField("guild", guildID).Error("failed to register guild commands")
			continue
		}
		names := make([]string, 0, len(created))
		for _, c := range created {
			names = append(names, c.Name)
		}
		log.WithFields(log.Fields{"guild": guildID, "commands": names}).Info("guild commands registered")
	}
}

// textCommands - Prefix commands, only reached from participating channels
func (b *Bot) textCommands() *exrouter.Route {
	router := exrouter.New()

	router.On("ping", func(ctx *exrouter.Context) {
		if _, err := ctx.Reply("pong"); err != nil {
			log.WithError(err).Warn("error sending message")
		}
	}).Desc("Check that the bot is alive")

	router.On(config.OpenCommand, b.OpenHandler).Desc(config.OpenCommandDescription)

	return router
}

// OpenHandler - Text version of the open command
func (b *Bot) OpenHandler(ctx *exrouter.Context) {
	text, handled, err := b.workflow.HandleCommand(config.OpenCommand, ctx.Msg.GuildID, ctx.Msg.ChannelID)
	if err != nil {
		log.WithError(err).WithField("channel", ctx.Msg.ChannelID).Error("failed to list open requests")
		return
	}
	if !handled {
		return
	}
	if _, err := ctx.Reply(text); err != nil {
		log.WithError(err).Warn("error sending message")
	}
}
