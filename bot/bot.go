// Package bot contains the request-queue processor, the expiry sweeper, and
// the moderator operations. The two periodic jobs share one exclusivity
// lock so at most one remote-mutating sequence runs at a time.
package bot

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/emote-tender/config"
	"github.com/onnwee/emote-tender/seventv"
	"github.com/onnwee/emote-tender/store"
)

// EmoteService abstracts the 7TV client (for tests/mocks).
type EmoteService interface {
	EmoteSetID(ctx context.Context, userID string) (string, error)
	LoadSet(ctx context.Context, setID string) (*seventv.EmoteSet, error)
	CheckEmote(ctx context.Context, emoteID string) (seventv.EmoteInfo, error)
	AddEmote(ctx context.Context, set *seventv.EmoteSet, emoteID, desiredName string) (string, error)
	RemoveEmote(ctx context.Context, setID, emoteID, name string) error
}

// RewardsAPI abstracts the Twitch redemptions client.
type RewardsAPI interface {
	LastRedemption(ctx context.Context, user string) (string, error)
	SetRedemptionStatus(ctx context.Context, redemptionID, status string) error
	CreateReward(ctx context.Context, title string, cost int) error
}

// Speaker sends a chat message to a channel.
type Speaker func(channel, text string)

// Bot wires the store, the 7TV client, and the rewards API together.
type Bot struct {
	Store    *store.Store
	Emotes   EmoteService
	Rewards  RewardsAPI
	Say      Speaker
	Messages config.Messages

	SevenTVUserID    string
	MaxEmotesPerUser int
	EmoteLifetime    time.Duration

	// mu is the process-wide exclusivity lock: a queue tick or sweep tick
	// that fails TryLock skips silently and retries on its own next tick.
	mu sync.Mutex

	now func() time.Time
}

// New constructs a Bot from the loaded config and concrete collaborators.
func New(cfg *config.Config, st *store.Store, emotes EmoteService, rewards RewardsAPI, say Speaker) *Bot {
	return &Bot{
		Store:            st,
		Emotes:           emotes,
		Rewards:          rewards,
		Say:              say,
		Messages:         cfg.Messages,
		SevenTVUserID:    cfg.SevenTVUserID,
		MaxEmotesPerUser: cfg.MaxEmotesPerUser,
		EmoteLifetime:    cfg.EmoteLifetime,
	}
}

func (b *Bot) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

func (b *Bot) say(channel, template string, args ...string) {
	if b.Say != nil {
		b.Say(channel, FormatMessage(template, args...))
	}
}

var emoteURLPattern = regexp.MustCompile(`(?:https?://)?7tv\.app/emotes/([a-zA-Z0-9]+)`)

// ExtractEmoteID pulls the emote id out of a request message: either a bare
// identifier or one embedded in a 7tv.app emote URL.
func ExtractEmoteID(message string) string {
	if m := emoteURLPattern.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	return strings.TrimSpace(message)
}
