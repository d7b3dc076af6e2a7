package takopi

import (
	"context"
	"log/slog"
	"strconv"
)

// VoiceHandler resolves an incoming voice attachment to either forwarded
// text (ok=true) or a reply that consumes the message without forwarding it
// to the agent (ok=false), per spec.md §4.12's transcription-failure policy.
// voice.Handler satisfies this interface without importing this package's
// internals; it is declared in this package, not in package voice, so the
// Bridge can depend on it without creating an import cycle with package voice.
type VoiceHandler interface {
	Handle(ctx context.Context, voice *FileInfo) (text string, reply string, ok bool)
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets a structured logger for the bridge.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// WithVoice attaches a voice handler; incoming messages carrying a Voice
// attachment are routed through it instead of the text path.
func WithVoice(v VoiceHandler) BridgeOption {
	return func(b *Bridge) { b.voice = v }
}

// WithTopicsScope controls how an inbound message maps to a ChatKey: "main"
// (the default) shares one history per chat; "projects" scopes history by
// sender within the chat, the closest approximation available without a
// transport-level subthread id (spec.md's Open Questions leaves the exact
// per-project routing metadata to the external orchestrator).
func WithTopicsScope(scope string) BridgeOption {
	return func(b *Bridge) { b.topicsScope = scope }
}

// Bridge drives the top-level message loop: poll the frontend, recognize
// chat commands before they reach a Runner, route voice attachments through
// a Transcriber, and hand everything else to an Orchestrator. Grounded on
// app.go's App.Run/handleMessage poll-then-dispatch shape, generalized from
// a single LLM Provider to one configured Engine's Runner/Orchestrator pair
// plus the command surface C14 adds in front of it.
type Bridge struct {
	frontend    Frontend
	store       SessionStore
	router      *CommandRouter
	orch        *Orchestrator
	engine      EngineId
	voice       VoiceHandler
	topicsScope string
	logger      *slog.Logger
}

// NewBridge constructs a Bridge dispatching every non-command prompt to
// orch under engine, with chat/session state kept in store.
func NewBridge(frontend Frontend, store SessionStore, orch *Orchestrator, engine EngineId, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		frontend:    frontend,
		store:       store,
		router:      NewCommandRouter(store),
		orch:        orch,
		engine:      engine,
		topicsScope: "main",
		logger:      nopLogger,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run polls the frontend and dispatches each incoming message in its own
// goroutine until ctx is cancelled or the frontend's channel closes.
func (b *Bridge) Run(ctx context.Context) error {
	msgs, err := b.frontend.Poll(ctx)
	if err != nil {
		return err
	}

	b.logger.Info("bridge: running", "engine", b.engine)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			go b.handleMessage(ctx, msg)
		}
	}
}

func (b *Bridge) handleMessage(ctx context.Context, msg IncomingMessage) {
	key := b.chatKey(msg)

	if msg.Voice != nil && b.voice != nil {
		text, reply, ok := b.voice.Handle(ctx, msg.Voice)
		if !ok {
			b.reply(ctx, msg.ChatID, reply)
			return
		}
		b.dispatchPrompt(ctx, msg.ChatID, key, text)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	if cmd, ok := ParseCommand(text); ok {
		reply, err := b.router.Handle(key, b.engine, cmd)
		if err != nil {
			b.logger.Warn("bridge: command failed", "command", cmd.Name, "error", err)
			reply = "command failed: " + err.Error()
		}
		b.reply(ctx, msg.ChatID, reply)
		return
	}

	b.dispatchPrompt(ctx, msg.ChatID, key, text)
}

func (b *Bridge) dispatchPrompt(ctx context.Context, chatID string, key ChatKey, prompt string) {
	if err := b.orch.Handle(ctx, chatID, key, b.engine, prompt); err != nil {
		b.logger.Warn("bridge: orchestrator run failed", "error", err)
	}
}

func (b *Bridge) reply(ctx context.Context, chatID, text string) {
	if text == "" {
		return
	}
	if _, err := b.frontend.Send(ctx, chatID, text); err != nil {
		b.logger.Warn("bridge: reply send failed", "error", err)
	}
}

// chatKey derives the ChatKey an incoming message is scoped under. "main"
// topics scope shares one history per chat; "projects" scope keys by
// sender, since IncomingMessage carries no transport-level subthread id.
func (b *Bridge) chatKey(msg IncomingMessage) ChatKey {
	chatID, _ := strconv.ParseInt(msg.ChatID, 10, 64)
	if b.topicsScope != "projects" || msg.UserID == "" {
		return ChatKey{ChatID: chatID}
	}
	ownerID, _ := strconv.ParseInt(msg.UserID, 10, 64)
	return ChatKey{ChatID: chatID, OwnerID: ownerID, HasOwner: true}
}
