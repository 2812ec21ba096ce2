// Package chat connects the bot to Twitch IRC. It turns reward-redemption
// messages into queued requests and moderator "!rb" commands into bot
// operations, and sends the bot's replies back to the channel.
package chat

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/emote-tender/config"
)

// Handler receives the two event kinds the core cares about.
type Handler interface {
	OnRedemption(channel, user, message string)
	OnModCommand(ctx context.Context, channel, requestor, sub string, params []string)
}

var commandPattern = regexp.MustCompile(`^!(\w+)\s*(.*)`)

// Client wraps the IRC connection for one channel.
type Client struct {
	irc      *twitch.Client
	handler  Handler
	channel  string
	rewardID string
}

// New builds a chat client; call Run to connect.
func New(cfg *config.Config, handler Handler) *Client {
	return &Client{
		irc:      twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchBotToken),
		handler:  handler,
		channel:  cfg.TwitchChannel,
		rewardID: cfg.RewardID,
	}
}

// Say sends a message to the channel.
func (c *Client) Say(channel, text string) {
	c.irc.Say(channel, text)
}

// Run joins the channel and blocks until the connection drops or ctx is
// canceled.
func (c *Client) Run(ctx context.Context) error {
	c.irc.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if msg.CustomRewardID == c.rewardID && c.rewardID != "" {
			c.handler.OnRedemption(msg.Channel, msg.User.DisplayName, msg.Message)
			return
		}
		if !isMod(msg, c.channel) {
			return
		}
		command, params := parseCommand(msg.Message)
		if command != "rb" && command != "rukubot" {
			return
		}
		if len(params) == 0 {
			return
		}
		c.handler.OnModCommand(ctx, msg.Channel, msg.User.DisplayName, params[0], params[1:])
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := c.irc.Disconnect(); err != nil {
			slog.Debug("twitch chat disconnect", slog.Any("err", err))
		}
		close(done)
	}()

	c.irc.Join(c.channel)
	if err := c.irc.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
		return err
	}
	<-done
	return nil
}

func isMod(msg twitch.PrivateMessage, channel string) bool {
	if msg.User.Badges["moderator"] > 0 || msg.User.Badges["broadcaster"] > 0 {
		return true
	}
	return strings.EqualFold(msg.User.Name, channel)
}

// parseCommand splits "!command param1 param2" into its parts. Returns an
// empty command when the message isn't a command at all.
func parseCommand(message string) (string, []string) {
	m := commandPattern.FindStringSubmatch(message)
	if m == nil {
		return "", nil
	}
	rest := strings.TrimSpace(m[2])
	if rest == "" {
		return m[1], nil
	}
	return m[1], strings.Fields(rest)
}
