package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/emote-tender/telemetry"
)

// Default reward parameters for the createdefaultreward command.
const (
	defaultRewardTitle = "Add Emote"
	defaultRewardCost  = 500
)

// OnRedemption enqueues a new emote request from a reward redemption event.
func (b *Bot) OnRedemption(channel, user, message string) {
	req, err := b.Store.AppendRequest(channel, user, message)
	if err != nil {
		slog.Error("failed to enqueue request", slog.String("user", user), slog.Any("err", err))
		return
	}
	slog.Info("request enqueued", slog.String("id", req.ID), slog.String("user", user))
	if depth, err := b.Store.QueueDepth(); err == nil {
		telemetry.SetQueueDepth(depth)
	}
}

// OnModCommand dispatches a moderator subcommand. Every operation answers
// with a success or failure reply addressed to the requestor.
func (b *Bot) OnModCommand(ctx context.Context, channel, requestor, sub string, params []string) {
	arg := func() string {
		if len(params) > 0 {
			return params[0]
		}
		return ""
	}
	switch sub {
	case "purge":
		user := arg()
		if user == "" {
			return
		}
		slog.Info("purging user emotes", slog.String("user", user), slog.String("requestor", requestor))
		if err := b.PurgeUser(ctx, user); err != nil {
			slog.Warn("purge failed", slog.String("user", user), slog.Any("err", err))
			b.say(channel, fmt.Sprintf("@%s error purging user.", requestor))
			return
		}
		b.say(channel, fmt.Sprintf("@%s removed all emotes requested by @%s", requestor, user))
	case "ban":
		user := arg()
		if user == "" {
			return
		}
		if err := b.Store.Ban(user); err != nil {
			slog.Warn("ban failed", slog.String("user", user), slog.Any("err", err))
			return
		}
		b.say(channel, fmt.Sprintf("@%s banned user @%s", requestor, user))
	case "unban":
		user := arg()
		if user == "" {
			return
		}
		if err := b.Store.Unban(user); err != nil {
			slog.Warn("unban failed", slog.String("user", user), slog.Any("err", err))
			return
		}
		b.say(channel, fmt.Sprintf("@%s unbanned user @%s", requestor, user))
	case "createdefaultreward":
		if err := b.Rewards.CreateReward(ctx, defaultRewardTitle, defaultRewardCost); err != nil {
			slog.Warn("reward creation failed", slog.Any("err", err))
			b.say(channel, fmt.Sprintf("@%s error creating reward.", requestor))
			return
		}
		b.say(channel, fmt.Sprintf("@%s created the default reward.", requestor))
	}
}

// PurgeUser removes all of the user's emotes from the remote set and then
// clears their grants from the store. If any remote removal fails the store
// is left untouched so the next attempt retries everything.
func (b *Bot) PurgeUser(ctx context.Context, user string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	grants, err := b.Store.UserGrants(user)
	if err != nil {
		return err
	}
	for _, g := range grants {
		if err := b.Emotes.RemoveEmote(ctx, g.EmoteSetID, g.EmoteID, g.EmoteName); err != nil {
			return fmt.Errorf("remove %s: %w", g.EmoteID, err)
		}
	}
	return b.Store.RemoveUserGrants(user)
}
