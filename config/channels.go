package config

import "fmt"

// Channel - Guild channel taking part in the feedback economy
type Channel struct {
	GuildID   string `yaml:"guild"`
	ChannelID string `yaml:"channel"`
}

func (c Channel) String() string {
	return fmt.Sprintf("%s/%s", c.GuildID, c.ChannelID)
}

// Registry - Set of participating channels
type Registry struct {
	channels map[Channel]struct{}
	ordered  []Channel
}

// NewRegistry - Build a registry, duplicates are dropped
func NewRegistry(channels []Channel) Registry {
	r := Registry{channels: make(map[Channel]struct{}, len(channels))}
	for _, c := range channels {
		if _, ok := r.channels[c]; ok {
			continue
		}
		r.channels[c] = struct{}{}
		r.ordered = append(r.ordered, c)
	}
	return r
}

// Participates - Check if a guild channel is enrolled
func (r Registry) Participates(guildID, channelID string) bool {
	_, ok := r.channels[Channel{GuildID: guildID, ChannelID: channelID}]
	return ok
}

// Channels - Enrolled channels in config order
func (r Registry) Channels() []Channel {
	out := make([]Channel, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Guilds - Distinct guilds with at least one enrolled channel
func (r Registry) Guilds() []string {
	seen := make(map[string]bool)
	var guilds []string
	for _, c := range r.ordered {
		if !seen[c.GuildID] {
			seen[c.GuildID] = true
			guilds = append(guilds, c.GuildID)
		}
	}
	return guilds
}
