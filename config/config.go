// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (chat, rewards, 7TV editor), use Validate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Twitch chat
	TwitchChannel     string
	TwitchBotUsername string
	TwitchBotToken    string

	// Twitch rewards API (static broadcaster credentials, supplied out of band)
	TwitchClientID         string
	TwitchBroadcasterToken string
	BroadcasterUserID      string
	RewardID               string

	// 7TV
	SevenTVUserID           string
	SevenTVEditorToken      string
	SevenTVEditorPersistent string

	// Emote policy
	EmoteLifetime    time.Duration
	MaxEmotesPerUser int

	// Scheduling
	QueueInterval time.Duration
	SweepInterval time.Duration

	// Storage
	DBPath string

	// HTTP
	HTTPAddr string

	Messages Messages
}

// Messages holds the chat notice templates. Placeholders {0}, {1}, ... are
// substituted positionally with operation results (user name, emote id/name).
type Messages struct {
	RequestAccepted string
	RequestBanned   string
	RequestQuota    string
	AddSuccess      string
	AddNotFound     string
	AddUnlisted     string
	AddPresent      string
	AddFailed       string
}

// Load reads environment variables and applies defaults. Missing credentials
// don't fail here; call Validate when the bot actually needs them.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchBotToken = os.Getenv("TWITCH_BOT_TOKEN")

	cfg.TwitchClientID = os.Getenv("TWITCH_BROADCASTER_CLIENTID")
	cfg.TwitchBroadcasterToken = os.Getenv("TWITCH_BROADCASTER_TOKEN")
	cfg.BroadcasterUserID = os.Getenv("TWITCH_BROADCASTER_USER_ID")
	cfg.RewardID = os.Getenv("TWITCH_REWARD_ID")

	cfg.SevenTVUserID = os.Getenv("SEVENTV_USER_ID")
	cfg.SevenTVEditorToken = os.Getenv("SEVENTV_EDITOR_TOKEN")
	cfg.SevenTVEditorPersistent = os.Getenv("SEVENTV_EDITOR_PERSISTENT_COOKIE")

	cfg.EmoteLifetime = 72 * time.Hour
	if v := os.Getenv("EMOTE_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid EMOTE_LIFETIME (duration): %q", v)
		}
		cfg.EmoteLifetime = d
	}

	cfg.MaxEmotesPerUser = 2
	if v := os.Getenv("MAX_EMOTES_PER_USER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_EMOTES_PER_USER: %q", v)
		}
		cfg.MaxEmotesPerUser = n
	}

	cfg.QueueInterval = 500 * time.Millisecond
	if v := os.Getenv("QUEUE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.QueueInterval = d
		}
	}
	cfg.SweepInterval = 10 * time.Second
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
	}

	cfg.DBPath = os.Getenv("DB_PATH")
	if cfg.DBPath == "" {
		cfg.DBPath = "data/emote-tender.db"
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.Messages = loadMessages()

	return cfg, nil
}

func loadMessages() Messages {
	m := Messages{
		RequestAccepted: "@{0} your request is being processed..",
		RequestBanned:   "@{0} you are banned from requesting emotes.",
		RequestQuota:    "@{0} you already have the maximum amount of active emotes.",
		AddSuccess:      "Added emote {1} PogChamp",
		AddNotFound:     "Could not find an emote with id {0} on 7TV.",
		AddUnlisted:     "Emote {0} is unlisted and cannot be added.",
		AddPresent:      "Emote {1} is already in the set.",
		AddFailed:       "Oops.. something went wrong adding the emote..",
	}
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&m.RequestAccepted, "MSG_REQUEST_ACCEPTED")
	override(&m.RequestBanned, "MSG_REQUEST_BANNED")
	override(&m.RequestQuota, "MSG_REQUEST_QUOTA")
	override(&m.AddSuccess, "MSG_ADD_SUCCESS")
	override(&m.AddNotFound, "MSG_ADD_NOTFOUND")
	override(&m.AddUnlisted, "MSG_ADD_UNLISTED")
	override(&m.AddPresent, "MSG_ADD_PRESENT")
	override(&m.AddFailed, "MSG_ADD_FAILED")
	return m
}

// Validate checks the fields required to run the bot against live services.
func (c *Config) Validate() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchBotToken == "" {
		return fmt.Errorf("missing twitch chat env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_BOT_TOKEN")
	}
	if c.TwitchClientID == "" || c.TwitchBroadcasterToken == "" || c.BroadcasterUserID == "" || c.RewardID == "" {
		return fmt.Errorf("missing rewards env: require TWITCH_BROADCASTER_CLIENTID, TWITCH_BROADCASTER_TOKEN, TWITCH_BROADCASTER_USER_ID, TWITCH_REWARD_ID")
	}
	if c.SevenTVUserID == "" || c.SevenTVEditorToken == "" {
		return fmt.Errorf("missing 7tv env: require SEVENTV_USER_ID, SEVENTV_EDITOR_TOKEN")
	}
	return nil
}
