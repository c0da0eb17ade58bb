package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// OpenCommand - Name of the command listing open feedback requests
const OpenCommand string = "open"

// OpenCommandDescription - Slash command description shown by Discord
const OpenCommandDescription string = "Lists posts in need of feedback"

// Replies sent to members

// MsgRequestAccepted - Reply when a credit was spent on a request
const MsgRequestAccepted string = "Successfully spent your permission to ask for feedback."

// MsgRequestRejected - Reply when a request was posted without a valid credit
const MsgRequestRejected string = "We *highly encourage* you to give feedback before you ask for it yourself. YEET!"

// MsgReplyAccepted - Reply when feedback was counted
const MsgReplyAccepted string = "Your feedback has been observed by forces unknown..."

// MsgOpenHeader - Header of the open request listing
const MsgOpenHeader string = "Here is a list of posts that still need feedback:"

// MsgNoOpen - Listing shown when nothing is waiting for feedback
const MsgNoOpen string = "No open messages..."

// MsgUnknownCommand - Response to a command the bot does not know
const MsgUnknownCommand string = "not implemented, yikes"

// EnvPrefix - Prefix of environment overrides, FEEDBACK_DISCORD_TOKEN etc.
const EnvPrefix string = "feedback"

var (
	ErrMissingToken    = errors.New("discord_token is not set")
	ErrMissingClientID = errors.New("client_id is not set")
	ErrNoChannels      = errors.New("no feedback channels configured")
)

// Config - Bot settings, loaded once and never changed afterwards
type Config struct {
	ClientID     string    `yaml:"client_id" envconfig:"CLIENT_ID"`
	DiscordToken string    `yaml:"discord_token" envconfig:"DISCORD_TOKEN"`
	Channels     []Channel `yaml:"channels" ignored:"true"`

	MinMsgLen             int `yaml:"min_msg_len" envconfig:"MIN_MSG_LEN"`
	PermissionTimeoutDays int `yaml:"permission_timeout_days" envconfig:"PERMISSION_TIMEOUT_DAYS"`

	DatabasePath  string `yaml:"database_path" envconfig:"DATABASE_PATH"`
	CommandPrefix string `yaml:"command_prefix" envconfig:"COMMAND_PREFIX"`
	Workers       int    `yaml:"workers" envconfig:"WORKERS"`
	QueueSize     int    `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	LogLevel      string `yaml:"log_level" envconfig:"LOG_LEVEL"`

	OpenRequestWarnThreshold int    `yaml:"open_request_warn_threshold" envconfig:"OPEN_REQUEST_WARN_THRESHOLD"`
	CapacityCheckSchedule    string `yaml:"capacity_check_schedule" envconfig:"CAPACITY_CHECK_SCHEDULE"`
}

// Default - Config with every optional field set
func Default() Config {
	return Config{
		MinMsgLen:                20,
		PermissionTimeoutDays:    5,
		DatabasePath:             "config/database.db",
		CommandPrefix:            "!",
		Workers:                  8,
		QueueSize:                256,
		LogLevel:                 "info",
		OpenRequestWarnThreshold: 50,
		CapacityCheckSchedule:    "@hourly",
	}
}

// Load - Read the YAML file at path, apply environment overrides and validate
func Load(path string) (*Config, error) {
	cfg := Default()

	bts, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(bts, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate - Check that the bot can run with these settings
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return ErrMissingToken
	}
	if c.ClientID == "" {
		return ErrMissingClientID
	}
	if len(c.Channels) == 0 {
		return ErrNoChannels
	}
	for i, ch := range c.Channels {
		if ch.GuildID == "" || ch.ChannelID == "" {
			return fmt.Errorf("channels[%d]: guild and channel are required", i)
		}
	}
	if c.MinMsgLen < 0 {
		return fmt.Errorf("min_msg_len must be >= 0")
	}
	if c.PermissionTimeoutDays < 0 {
		return fmt.Errorf("permission_timeout_days must be >= 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be > 0")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is not set")
	}
	return nil
}

// Registry - Participating channels of this config
func (c *Config) Registry() Registry {
	return NewRegistry(c.Channels)
}
