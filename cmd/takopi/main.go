// Command takopi runs the chat-to-CLI-agent bridge: it loads configuration,
// wires a Telegram frontend to a codex or claude subprocess engine, and
// serves until interrupted. Grounded on cmd/oasis/main.go's thin
// options-then-Run shape.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/hotaru-dev/takopi"
	"github.com/hotaru-dev/takopi/engine/claude"
	"github.com/hotaru-dev/takopi/engine/codex"
	"github.com/hotaru-dev/takopi/frontend/telegram"
	"github.com/hotaru-dev/takopi/internal/config"
	"github.com/hotaru-dev/takopi/internal/telemetry"
	"github.com/hotaru-dev/takopi/store/filestore"
	"github.com/hotaru-dev/takopi/voice"
)

func main() {
	logger := slog.New(takopi.NewRedactingHandler(slog.NewTextHandler(os.Stderr, nil)))

	cfgPath := os.Getenv("TAKOPI_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if cfg.Transports.Telegram.BotToken == "" {
		logger.Error("transports.telegram.bot_token is required (or TAKOPI_TELEGRAM_BOT_TOKEN)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tracer, metrics, shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without it", "error", err)
		tracer, metrics = takopi.NopTracer, takopi.NopMetrics
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	sessionPath := os.Getenv("TAKOPI_SESSION_STATE_PATH")
	if sessionPath == "" {
		sessionPath = "takopi_chat_sessions_state.json"
	}
	store := filestore.New(sessionPath, filestore.WithLogger(logger), filestore.WithMetrics(metrics))

	if cwd, err := os.Getwd(); err == nil {
		if changed, err := store.SyncStartupCWD(cwd); err != nil {
			logger.Warn("sync startup cwd failed", "error", err)
		} else if changed {
			logger.Info("working directory changed since last run, session history reset")
		}
	}

	var eng takopi.Engine
	switch cfg.Engine.Default {
	case "claude":
		eng = claude.New()
	default:
		eng = codex.New()
	}

	locks := takopi.NewLockRegistry()
	runner := takopi.NewRunner(eng, locks, takopi.WithLogger(logger), takopi.WithTracer(tracer))

	tg := telegram.New(cfg.Transports.Telegram.BotToken, strconv.FormatInt(cfg.Transports.Telegram.ChatID, 10), telegram.WithLogger(logger))

	orch := takopi.NewOrchestrator(runner, store, tg, takopi.WithOrchestratorLogger(logger))

	var bridgeOpts []takopi.BridgeOption
	bridgeOpts = append(bridgeOpts, takopi.WithBridgeLogger(logger), takopi.WithTopicsScope(cfg.Transports.Telegram.Topics.Scope))

	if cfg.Transports.Telegram.VoiceTranscription {
		transcriber := voice.New(cfg.Transports.Telegram.VoiceAPIKey, cfg.Transports.Telegram.VoiceModel, cfg.Transports.Telegram.VoiceBaseURL)
		voiceHandler := &voice.Handler{
			Transcriber: transcriber,
			Enabled:     true,
			MaxBytes:    cfg.Transports.Telegram.VoiceMaxBytes,
			Download:    tg.DownloadFile,
		}
		bridgeOpts = append(bridgeOpts, takopi.WithVoice(voiceHandler))
	}

	bridge := takopi.NewBridge(tg, store, orch, eng.ID(), bridgeOpts...)

	if cfg.Inject.Dir != "" {
		chat := takopi.ChatKey{ChatID: cfg.Transports.Telegram.ChatID}
		dispatcher := takopi.NewOrchestratorDispatcher(orch, strconv.FormatInt(cfg.Transports.Telegram.ChatID, 10), eng.ID())
		pollInterval := time.Duration(cfg.Inject.PollInterval) * time.Millisecond
		watcher := takopi.NewInjectionWatcher(cfg.Inject.Dir, chat, dispatcher,
			takopi.WithPollInterval(pollInterval), takopi.WithInjectionLogger(logger))
		go watcher.Run(ctx)
	}

	logger.Info("takopi: starting", "engine", eng.ID(), "chat_id", cfg.Transports.Telegram.ChatID)
	if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("bridge run failed", "error", err)
		os.Exit(1)
	}
}
