package takopi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets a structured logger for the runner. A Debug-level record
// is emitted for every non-blank stdout line read before the terminal event;
// child start and exit are not logged. A discarding no-op logger is the default. Grounded on store/sqlite.go's WithLogger
// convention, generalized across every component in this module.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithTracer sets the Tracer used to span every invocation (C16). A no-op
// Tracer is the default.
func WithTracer(t Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// Runner spawns an Engine's child process, frames its stdout line by line,
// translates each line into zero or more Events, and guarantees the
// returned sequence always ends — either with exactly one Completed event,
// or (for a spec-violating child) a fatal error retrievable from
// Invocation.Err after the Events channel closes.
type Runner struct {
	engine Engine
	locks  *lockRegistry
	logger *slog.Logger
	tracer Tracer
}

// NewRunner constructs a Runner for one Engine. locks must be shared across
// every Runner in the process so that ResumeTokens for different engines
// (which embed the engine id in their lock key) never spuriously collide,
// and so two Runners racing on the same resume value genuinely serialize.
func NewRunner(engine Engine, locks *lockRegistry, opts ...RunnerOption) *Runner {
	r := &Runner{engine: engine, locks: locks, logger: nopLogger, tracer: NopTracer}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Invocation is a single-pass, finite, lazy run of the child process. Call
// Events() to consume the sequence; once it closes, call Err() to check for
// the fatal session-identity error that replaces the terminal Completed
// event rather than accompanying it.
type Invocation struct {
	events chan Event
	err    error
}

// Events returns the channel of Events for this invocation. Closed when the
// invocation is exhausted.
func (r *Invocation) Events() <-chan Event { return r.events }

// Err returns the fatal session-identity error for this invocation, if any.
// Only meaningful after Events() has been fully drained and closed.
func (r *Invocation) Err() error { return r.err }

// Run spawns the child and streams translated Events. resume may be nil for
// a fresh invocation.
func (r *Runner) Run(ctx context.Context, prompt string, resume *ResumeToken) *Invocation {
	run := &Invocation{events: make(chan Event, 16)}
	go r.runImpl(ctx, prompt, resume, run)
	return run
}

func (r *Runner) runImpl(ctx context.Context, prompt string, resume *ResumeToken, run *Invocation) {
	defer close(run.events)

	tag := r.engine.Tag()
	state := &RunState{}

	start := time.Now()
	spanAttrs := []SpanAttr{
		StringAttr("engine", string(r.engine.ID())),
		BoolAttr("resume", resume != nil),
	}
	if resume != nil {
		spanAttrs = append(spanAttrs, StringAttr("resume_token", resume.Value))
	}
	ctx, span := r.tracer.Start(ctx, "runner.run", spanAttrs...)
	defer func() {
		span.SetAttr(Float64Attr("duration_seconds", time.Since(start).Seconds()))
		span.End()
	}()

	var release func()
	if resume != nil {
		release = r.locks.acquire(*resume)
		defer release()
	}

	args := r.engine.BuildArgs(prompt, resume)
	cmd := exec.CommandContext(ctx, r.engine.Command(), args...)
	cmd.Env = append(os.Environ(), r.engine.Env(prompt, resume)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		run.events <- CompletedEvent(r.engine.ID(), false, "", nil, (&ErrChildSpawn{Command: r.engine.Command(), Cause: err}).Error())
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		run.events <- CompletedEvent(r.engine.ID(), false, "", nil, (&ErrChildSpawn{Command: r.engine.Command(), Cause: err}).Error())
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		run.events <- CompletedEvent(r.engine.ID(), false, "", nil, (&ErrChildSpawn{Command: r.engine.Command(), Cause: err}).Error())
		return
	}

	if err := cmd.Start(); err != nil {
		run.events <- CompletedEvent(r.engine.ID(), false, "", nil, (&ErrChildSpawn{Command: r.engine.Command(), Cause: err}).Error())
		return
	}

	payload := r.engine.StdinPayload(prompt, resume)
	if len(payload) > 0 {
		_, _ = stdin.Write(payload)
	}
	_ = stdin.Close()

	go drainStderr(stderr, tag, r.logger)

	var foundSession *ResumeToken
	completedEmitted := false

	sc := scanLines(stdout)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if completedEmitted {
			continue // drained but ignored, per spec.md §4.3
		}

		clean := strings.ToValidUTF8(line, "�")
		r.logger.Debug("runner: line", "tag", tag, "line", clean)

		var data map[string]any
		if err := json.Unmarshal([]byte(clean), &data); err != nil {
			id := state.NextNoteID(tag)
			r.spanWarning(ctx, "invalid JSON line", nil)
			run.events <- ActionCompletedEvent(r.engine.ID(),
				Action{ID: id, Kind: ActionKindWarning, Title: "invalid JSON line", Detail: map[string]any{"line": clean}},
				false, "invalid JSON line", "warning")
			continue
		}

		events, terr := r.engine.Translate(ctx, data, state, resume, foundSession)
		if terr != nil {
			id := state.NextNoteID(tag)
			detail := map[string]any{"error": terr.Error()}
			if t, ok := data["type"]; ok {
				detail["type"] = t
			}
			if it, ok := data["item_type"]; ok {
				detail["item_type"] = it
			}
			r.spanWarning(ctx, "translation error", terr)
			run.events <- ActionCompletedEvent(r.engine.ID(),
				Action{ID: id, Kind: ActionKindWarning, Title: "translation error", Detail: detail},
				false, terr.Error(), "warning")
			continue
		}

		for _, ev := range events {
			if completedEmitted {
				break
			}
			if ev.Kind == EventSessionStarted {
				ok, fatal := r.validateSessionStarted(ev, resume, foundSession)
				if fatal != nil {
					run.err = fatal
					_ = cmd.Process.Kill()
					_, _ = cmd.Process.Wait()
					return
				}
				if !ok {
					continue // de-duped repeat of the already-known session
				}
				tok := ev.Resume
				foundSession = &tok
				span.Event("session.identified", StringAttr("resume_token", tok.Value))
				if resume == nil && release == nil {
					release = r.locks.acquire(tok)
					defer release()
				}
			}
			if ev.Kind == EventCompleted {
				completedEmitted = true
			}
			run.events <- ev
		}
	}

	waitErr := cmd.Wait()

	if completedEmitted {
		return
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		id := state.NextNoteID(tag)
		msg := fmt.Sprintf("%s failed (rc=%d).", tag, exitErr.ExitCode())
		r.spanWarning(ctx, "child exited non-zero", exitErr, IntAttr("exit_code", exitErr.ExitCode()))
		span.Error(exitErr)
		run.events <- ActionCompletedEvent(r.engine.ID(),
			Action{ID: id, Kind: ActionKindWarning, Title: "child exited non-zero"},
			false, msg, "warning")
		resumeOut := foundSession
		if resumeOut == nil {
			resumeOut = resume
		}
		run.events <- CompletedEvent(r.engine.ID(), false, "", resumeOut, msg)
		return
	}

	run.events <- CompletedEvent(r.engine.ID(), false, "", foundSession, fmt.Sprintf("%s finished without a result event", tag))
}

// spanWarning opens and immediately closes a child span for one synthesized
// warning note, per spec.md §4.16. cause may be nil.
func (r *Runner) spanWarning(ctx context.Context, title string, cause error, extra ...SpanAttr) {
	attrs := append([]SpanAttr{StringAttr("title", title)}, extra...)
	_, span := r.tracer.Start(ctx, "runner.warning", attrs...)
	if cause != nil {
		span.Error(cause)
	}
	span.End()
}

// validateSessionStarted applies spec.md §4.3's session-identity validation.
// Returns (emit, fatal): emit is false for a tolerated duplicate, fatal is
// non-nil for a spec-violating child.
func (r *Runner) validateSessionStarted(ev Event, resume, foundSession *ResumeToken) (bool, error) {
	if ev.Engine != r.engine.ID() {
		return false, &ErrSessionMismatch{Reason: fmt.Sprintf("child reported engine %q, runner is %q", ev.Engine, r.engine.ID())}
	}
	if resume != nil && ev.Resume != *resume {
		return false, &ErrSessionMismatch{Reason: fmt.Sprintf("child reported resume %q, invocation requested %q", ev.Resume.Value, resume.Value)}
	}
	if foundSession == nil {
		return true, nil
	}
	if ev.Resume == *foundSession {
		return false, nil // de-dupe
	}
	return false, &ErrSessionMismatch{Reason: fmt.Sprintf("child reported resume %q after already reporting %q", ev.Resume.Value, foundSession.Value)}
}

