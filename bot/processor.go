package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/emote-tender/seventv"
	"github.com/onnwee/emote-tender/store"
	"github.com/onnwee/emote-tender/telemetry"
)

// StartQueueJob drains the request queue at an interval. Each tick handles
// at most one request, under the shared exclusivity lock.
func StartQueueJob(ctx context.Context, b *Bot, interval time.Duration) {
	slog.Info("queue job starting", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("queue job stopped")
			return
		case <-ticker.C:
			if !b.mu.TryLock() {
				continue
			}
			b.processNext(ctx)
			b.mu.Unlock()
		}
	}
}

// processNext peeks the oldest request, applies ban and quota rules, and
// either fulfills or refunds the redemption. The request is removed from the
// queue regardless of outcome: processing is at most once per request.
func (b *Bot) processNext(ctx context.Context) {
	req, err := b.Store.NextRequest()
	if err != nil {
		slog.Warn("queue peek failed", slog.Any("err", err))
		return
	}
	if req == nil {
		return
	}

	ctx = telemetry.WithCorrelation(ctx, req.ID)
	ctx, span := telemetry.StartSpan(ctx, "queue", "process-request")
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("user", req.User), slog.String("component", "queue"))

	telemetry.RequestsProcessed.Inc()
	start := b.clock()

	banned, err := b.Store.IsBanned(req.User)
	if err != nil {
		logger.Warn("ban check failed", slog.Any("err", err))
	}

	switch {
	case banned:
		logger.Info("request rejected: user banned")
		b.say(req.Channel, b.Messages.RequestBanned, req.User)
		b.refund(ctx, req)
	case b.overQuota(req.User, logger):
		logger.Info("request rejected: quota reached", slog.Int("max", b.MaxEmotesPerUser))
		b.say(req.Channel, b.Messages.RequestQuota, req.User)
		b.refund(ctx, req)
	default:
		b.say(req.Channel, b.Messages.RequestAccepted, req.User)
		if b.redeem(ctx, req, logger) {
			b.fulfill(ctx, req)
		} else {
			b.refund(ctx, req)
		}
	}

	// Always clear the request, whatever the outcome. A failure here is an
	// accepted inconsistency: memory and disk reconverge on the next write.
	if err := b.Store.RemoveRequest(req.ID); err != nil {
		logger.Error("failed to clear request", slog.Any("err", err))
	}
	if depth, err := b.Store.QueueDepth(); err == nil {
		telemetry.SetQueueDepth(depth)
	}
	if n, err := b.Store.GrantCount(); err == nil {
		telemetry.SetActiveGrants(n)
	}
	if obs := telemetry.ProcessDuration; obs != nil {
		obs.Observe(b.clock().Sub(start).Seconds())
	}
}

func (b *Bot) overQuota(user string, logger *slog.Logger) bool {
	count, err := b.Store.CountUserGrants(user)
	if err != nil {
		logger.Warn("grant count failed", slog.Any("err", err))
		return false
	}
	logger.Debug("active emote count", slog.Int("count", count))
	return count >= b.MaxEmotesPerUser
}

// redeem resolves the emote id from the message and adds it to the remote
// set. Every rejection produces exactly one reason-specific notice; the
// caller refunds on false.
func (b *Bot) redeem(ctx context.Context, req *store.Request, logger *slog.Logger) bool {
	emoteID := ExtractEmoteID(req.Message)

	setID, err := b.Emotes.EmoteSetID(ctx, b.SevenTVUserID)
	if err != nil {
		logger.Warn("emote set resolution failed", slog.Any("err", err))
		b.say(req.Channel, b.Messages.AddFailed)
		return false
	}
	// Refetch the set before every mutating sequence; other editors and the
	// sweeper may have changed it since the last cycle.
	set, err := b.Emotes.LoadSet(ctx, setID)
	if err != nil {
		logger.Warn("emote set fetch failed", slog.Any("err", err))
		b.say(req.Channel, b.Messages.AddFailed)
		return false
	}

	info, err := b.Emotes.CheckEmote(ctx, emoteID)
	switch {
	case errors.Is(err, seventv.ErrEmoteNotFound):
		b.say(req.Channel, b.Messages.AddNotFound, emoteID)
		return false
	case errors.Is(err, seventv.ErrEmoteUnlisted):
		b.say(req.Channel, b.Messages.AddUnlisted, emoteID, info.Name)
		return false
	case err != nil:
		logger.Warn("emote lookup failed", slog.Any("err", err))
		b.say(req.Channel, b.Messages.AddFailed)
		return false
	}

	name, err := b.Emotes.AddEmote(ctx, set, emoteID, info.Name)
	switch {
	case errors.Is(err, seventv.ErrAlreadyPresent):
		b.say(req.Channel, b.Messages.AddPresent, emoteID, name)
		return false
	case err != nil:
		logger.Warn("emote add failed", slog.Any("err", err))
		b.say(req.Channel, b.Messages.AddFailed)
		return false
	}

	grant := store.Grant{
		Requester:  req.User,
		EmoteID:    emoteID,
		EmoteSetID: setID,
		EmoteName:  name,
		ExpireAt:   b.clock().Add(b.EmoteLifetime),
	}
	if err := b.Store.AppendGrant(grant); err != nil {
		// Remote add already happened; the grant just isn't tracked. Accepted
		// inconsistency, the emote will simply never expire on its own.
		logger.Error("failed to persist grant", slog.Any("err", err))
	}
	logger.Info("emote added", slog.String("emote_id", emoteID), slog.String("name", name))
	b.say(req.Channel, b.Messages.AddSuccess, emoteID, name)
	return true
}

// refund marks the user's newest unfulfilled redemption CANCELED. Failures
// are reported to the channel but never block queue draining.
func (b *Bot) refund(ctx context.Context, req *store.Request) {
	telemetry.RequestsRefunded.Inc()
	if err := b.settle(ctx, req.User, "CANCELED"); err != nil {
		slog.Warn("refund failed", slog.String("user", req.User), slog.Any("err", err))
		b.say(req.Channel, fmt.Sprintf("Failed to process refund for @%s", req.User))
		return
	}
	slog.Info("redemption refunded", slog.String("user", req.User))
}

// fulfill marks the user's newest unfulfilled redemption FULFILLED.
func (b *Bot) fulfill(ctx context.Context, req *store.Request) {
	telemetry.RequestsFulfilled.Inc()
	if err := b.settle(ctx, req.User, "FULFILLED"); err != nil {
		slog.Warn("fulfill failed", slog.String("user", req.User), slog.Any("err", err))
		b.say(req.Channel, fmt.Sprintf("Failed to fulfill redemption for @%s", req.User))
		return
	}
	slog.Info("redemption fulfilled", slog.String("user", req.User))
}

func (b *Bot) settle(ctx context.Context, user, status string) error {
	redemptionID, err := b.Rewards.LastRedemption(ctx, user)
	if err != nil {
		return err
	}
	return b.Rewards.SetRedemptionStatus(ctx, redemptionID, status)
}
