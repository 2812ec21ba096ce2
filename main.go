// Command emote-tender runs the channel-points emote bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the BoltDB-backed store of requests, grants, and bans.
//   - Connects to Twitch chat to receive redemptions and mod commands.
//   - Starts the queue processor and the expiry sweeper.
//   - Exposes a minimal HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/emote-tender/bot"
	"github.com/onnwee/emote-tender/chat"
	"github.com/onnwee/emote-tender/config"
	"github.com/onnwee/emote-tender/server"
	"github.com/onnwee/emote-tender/seventv"
	"github.com/onnwee/emote-tender/store"
	"github.com/onnwee/emote-tender/telemetry"
	"github.com/onnwee/emote-tender/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience; production uses real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("emote-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open store", slog.Any("err", err), slog.String("path", cfg.DBPath))
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := &seventv.TokenSource{
		EditorToken:      cfg.SevenTVEditorToken,
		EditorPersistent: cfg.SevenTVEditorPersistent,
	}
	emotes := &seventv.Client{Tokens: tokens}
	rewards := twitchapi.NewRewardsClient(cfg.TwitchClientID, cfg.TwitchBroadcasterToken, cfg.BroadcasterUserID, cfg.RewardID)

	b := bot.New(cfg, st, emotes, rewards, nil)
	chatClient := chat.New(cfg, b)
	b.Say = chatClient.Say

	go func() {
		if err := chatClient.Run(ctx); err != nil {
			slog.Error("chat client exited with error", slog.Any("err", err))
			stop()
		}
	}()

	go bot.StartQueueJob(ctx, b, cfg.QueueInterval)
	go bot.StartSweepJob(ctx, b, cfg.SweepInterval)

	go func() {
		if err := server.Start(ctx, st, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("emote-tender running",
		slog.String("channel", cfg.TwitchChannel),
		slog.Duration("emote_lifetime", cfg.EmoteLifetime),
		slog.Int("max_emotes_per_user", cfg.MaxEmotesPerUser))

	<-ctx.Done()
	slog.Info("shutting down")
}
