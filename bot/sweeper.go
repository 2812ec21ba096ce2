package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/emote-tender/telemetry"
)

// StartSweepJob retracts time-expired grants at an interval, guarded by the
// same exclusivity lock as the queue processor.
func StartSweepJob(ctx context.Context, b *Bot, interval time.Duration) {
	slog.Info("sweep job starting", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep job stopped")
			return
		case <-ticker.C:
			if !b.mu.TryLock() {
				continue
			}
			b.sweepExpired(ctx)
			b.mu.Unlock()
		}
	}
}

// sweepExpired removes expired emotes from the remote set and deletes
// exactly the grants whose removal succeeded. Failed removals stay persisted
// and are retried on the next sweep; there is no backoff or attempt marker.
func (b *Bot) sweepExpired(ctx context.Context) {
	expired, err := b.Store.ExpiredGrants(b.clock())
	if err != nil {
		slog.Warn("expired grant scan failed", slog.Any("err", err))
		return
	}
	if len(expired) == 0 {
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "sweeper", "sweep-expired")
	defer span.End()
	telemetry.SweepCycles.Inc()
	start := b.clock()
	logger := slog.Default().With(slog.String("component", "sweeper"))
	logger.Info("retracting expired emotes", slog.Int("count", len(expired)))

	// One remote snapshot per set for the whole sweep. A grant whose emote is
	// already gone from the set counts as removed.
	sets := map[string]map[string]bool{}
	loadSet := func(setID string) (map[string]bool, bool) {
		if ids, ok := sets[setID]; ok {
			return ids, ids != nil
		}
		set, err := b.Emotes.LoadSet(ctx, setID)
		if err != nil {
			logger.Warn("emote set fetch failed", slog.String("set_id", setID), slog.Any("err", err))
			sets[setID] = nil
			return nil, false
		}
		ids := make(map[string]bool, len(set.Emotes))
		for _, e := range set.Emotes {
			ids[e.ID] = true
		}
		sets[setID] = ids
		return ids, true
	}

	var removed []string
	for _, g := range expired {
		ids, ok := loadSet(g.EmoteSetID)
		if !ok {
			continue
		}
		if !ids[g.EmoteID] {
			logger.Debug("emote already absent from set", slog.String("emote_id", g.EmoteID))
			removed = append(removed, g.ID)
			continue
		}
		if err := b.Emotes.RemoveEmote(ctx, g.EmoteSetID, g.EmoteID, g.EmoteName); err != nil {
			telemetry.RecordError(span, err)
			logger.Warn("emote removal failed; will retry next sweep",
				slog.String("emote_id", g.EmoteID), slog.Any("err", err))
			continue
		}
		telemetry.EmotesRetracted.Inc()
		logger.Info("emote retracted", slog.String("emote_id", g.EmoteID), slog.String("name", g.EmoteName))
		removed = append(removed, g.ID)
	}

	if len(removed) > 0 {
		if err := b.Store.RemoveGrants(removed); err != nil {
			logger.Error("failed to delete retracted grants", slog.Any("err", err))
		}
	}
	if n, err := b.Store.GrantCount(); err == nil {
		telemetry.SetActiveGrants(n)
	}
	if obs := telemetry.SweepDuration; obs != nil {
		obs.Observe(b.clock().Sub(start).Seconds())
	}
}
