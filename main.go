package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-feedback/config"
	db "github.com/cufee/botto-feedback/database"
	"github.com/cufee/botto-feedback/handlers"
	"github.com/cufee/botto-feedback/jobs"
	"github.com/cufee/botto-feedback/workflow"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)

	if err := run(); err != nil {
		log.WithError(err).Fatal("bot stopped")
	}
}

func run() error {
	var configPath, databasePath, logLevel string
	flags := pflag.NewFlagSet("botto-feedback", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the YAML config file")
	flags.StringVar(&databasePath, "database", "", "override database_path from the config")
	flags.StringVar(&logLevel, "log-level", "", "override log_level from the config")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if databasePath != "" {
		cfg.DatabasePath = databasePath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("bad log level: %w", err)
	}
	log.SetLevel(level)

	ledger, err := db.Open(cfg.DatabasePath, cfg.Registry().Channels())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// Closing DB after the session and workers are gone
	defer ledger.Close()

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := handlers.NewGateway(session)
	wf := workflow.New(cfg, ledger, gateway, workflow.SystemClock)
	dispatcher := handlers.NewDispatcher(cfg.Workers, cfg.QueueSize)
	bot := handlers.NewBot(ctx, cfg, wf, gateway, dispatcher, handlers.NewReferenceResolver(handlers.SessionFetch(session)))
	bot.Register(session)

	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	scheduler := jobs.NewScheduler(cfg, ledger)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to connect to discord: %w", err)
	}
	defer session.Close()

	log.Info("bot is running, press CTRL-C to exit")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infof("received %s, shutting down", sig)
	return nil
}
