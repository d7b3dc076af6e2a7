package takopi

import (
	"context"
	"log/slog"
	"time"
)

// MessageSender is the minimal chat-transport surface the Orchestrator
// needs: send one message, then keep editing it in place. Grounded on
// app.go's Frontend.Send/Edit pair, narrowed to what the orchestrator
// actually drives (frontend/telegram adapts the full wire client to this).
type MessageSender interface {
	// Send posts a new message to chatID and returns its id for later edits.
	Send(ctx context.Context, chatID string, text string) (msgID string, err error)
	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, chatID string, msgID string, text string) error
}

// EditThrottleInterval bounds how often the Orchestrator edits the chat
// message while a run is in progress, per spec.md §4.8.
const EditThrottleInterval = 800 * time.Millisecond

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets a structured logger for the orchestrator.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator drives one Runner invocation end to end for an incoming
// message: resolve the session, send a placeholder, fold events into a
// renderer, throttle-edit the chat message, and persist the resume token
// once the child reports its session. Grounded on app.go's
// handleAction placeholder-send-then-iterative-edit shape and
// cmd/bot_example/handler.go's streamToTelegram throttled-edit timing,
// adapted from its 1s/text-delta-only loop to spec's 800ms/full Event
// stream.
type Orchestrator struct {
	runner *Runner
	store  SessionStore
	sender MessageSender
	logger *slog.Logger
}

// NewOrchestrator constructs an Orchestrator for one Engine's Runner.
func NewOrchestrator(runner *Runner, store SessionStore, sender MessageSender, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{runner: runner, store: store, sender: sender, logger: nopLogger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle runs prompt for chat, driving the placeholder message through its
// full lifecycle. chatID is the transport-level destination for Send/Edit;
// key scopes session lookups in the store.
func (o *Orchestrator) Handle(ctx context.Context, chatID string, key ChatKey, engine EngineId, prompt string) error {
	resume, _ := o.store.GetSessionResume(key, engine)
	var resumePtr *ResumeToken
	if resume.Value != "" {
		resumePtr = &resume
	}

	renderer := NewRenderer()
	start := time.Now()

	msgID, err := o.sender.Send(ctx, chatID, renderer.RenderProgress(0))
	if err != nil {
		return err
	}

	inv := o.runner.Run(ctx, prompt, resumePtr)

	lastEdit := time.Time{}
	for ev := range inv.Events() {
		changed := renderer.Apply(ev)
		elapsed := time.Since(start)

		if ev.Kind == EventSessionStarted {
			if err := o.store.SetSessionResume(key, ev.Resume, prompt); err != nil {
				o.logger.Warn("orchestrator: set session resume failed", "error", err)
			}
		}

		force := ev.Kind == EventSessionStarted || ev.Kind == EventCompleted
		if !changed && !force {
			continue
		}
		if !force && time.Since(lastEdit) < EditThrottleInterval {
			continue
		}

		var body string
		if ev.Kind == EventCompleted {
			status := "done"
			if !ev.OK {
				status = "error"
			}
			answer := ev.Answer
			if !ev.OK && answer == "" {
				answer = ev.Error
			}
			body = renderer.RenderFinal(elapsed, answer, status)
		} else {
			body = renderer.RenderProgress(elapsed)
		}

		if err := o.sender.Edit(ctx, chatID, msgID, body); err != nil {
			o.logger.Warn("orchestrator: edit failed", "error", err)
		}
		lastEdit = time.Now()
	}

	if err := inv.Err(); err != nil {
		o.logger.Warn("orchestrator: invocation failed", "error", err)
		_ = o.sender.Edit(ctx, chatID, msgID, renderer.RenderFinal(time.Since(start), "", "error"))
		return err
	}

	return nil
}

var _ InjectionDispatcher = (*orchestratorDispatcher)(nil)

// orchestratorDispatcher adapts an Orchestrator to InjectionDispatcher for
// one chat/engine pair, so the injection watcher can drive the same
// Handle path a user message takes.
type orchestratorDispatcher struct {
	orch   *Orchestrator
	chatID string
	engine EngineId
}

// NewOrchestratorDispatcher builds the InjectionDispatcher adapter.
func NewOrchestratorDispatcher(orch *Orchestrator, chatID string, engine EngineId) InjectionDispatcher {
	return &orchestratorDispatcher{orch: orch, chatID: chatID, engine: engine}
}

func (d *orchestratorDispatcher) ClearSession(ctx context.Context, chat ChatKey) error {
	return d.orch.store.ClearSessions(chat)
}

func (d *orchestratorDispatcher) Dispatch(ctx context.Context, chat ChatKey, prompt string) error {
	return d.orch.Handle(ctx, d.chatID, chat, d.engine, prompt)
}
