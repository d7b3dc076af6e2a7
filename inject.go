package takopi

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SystemPromptPrefix tags a prompt as machine-originated rather than
// typed by a chat user. Grounded on original_source's inject.py SYSTEM_PREFIX.
const SystemPromptPrefix = "[SYSTEM] "

// InjectedPrompt is one dispatched file-injected prompt.
type InjectedPrompt struct {
	Text       string
	NewSession bool
}

// InjectionDispatcher delivers one injected prompt through the same path a
// user message would take. Implementations are expected to resolve the
// current resume token for chat themselves (the watcher only tells them a
// new session was requested first).
type InjectionDispatcher interface {
	// ClearSession drops the active session for chat, so the next dispatch
	// starts a fresh conversation.
	ClearSession(ctx context.Context, chat ChatKey) error
	// Dispatch runs prompt (already prefixed with SystemPromptPrefix) as if
	// it were an incoming chat message for chat.
	Dispatch(ctx context.Context, chat ChatKey, prompt string) error
}

// InjectionWatcherOption configures an InjectionWatcher.
type InjectionWatcherOption func(*InjectionWatcher)

// WithPollInterval overrides the default 2-second poll interval.
func WithPollInterval(d time.Duration) InjectionWatcherOption {
	return func(w *InjectionWatcher) { w.pollInterval = d }
}

// WithInjectionLogger sets a structured logger for the watcher.
func WithInjectionLogger(l *slog.Logger) InjectionWatcherOption {
	return func(w *InjectionWatcher) { w.logger = l }
}

// InjectionWatcher polls a directory for "*.json" prompt files and dispatches
// them as system-tagged prompts, per spec.md §4.7. Grounded on
// original_source's telegram/inject.py for the poll/parse/dispatch algorithm
// and scheduler.go's ticker-driven run loop for the Go idiom.
type InjectionWatcher struct {
	dir          string
	chat         ChatKey
	dispatcher   InjectionDispatcher
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewInjectionWatcher constructs a watcher over dir for one chat.
func NewInjectionWatcher(dir string, chat ChatKey, dispatcher InjectionDispatcher, opts ...InjectionWatcherOption) *InjectionWatcher {
	w := &InjectionWatcher{
		dir:          dir,
		chat:         chat,
		dispatcher:   dispatcher,
		pollInterval: 2 * time.Second,
		logger:       nopLogger,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run polls dir until ctx is cancelled. Errors within a single poll are
// logged and the loop continues; Run only returns once ctx is done.
func (w *InjectionWatcher) Run(ctx context.Context) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.logger.Error("inject: failed to create inject dir", "dir", w.dir, "error", err)
	}
	w.logger.Info("inject: watcher started", "dir", w.dir)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inject: watcher stopped")
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *InjectionWatcher) pollOnce(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err != nil {
		w.logger.Warn("inject: glob failed", "error", err)
		return
	}
	sort.Strings(matches)

	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return
		}
		w.processFile(ctx, path)
	}
}

func (w *InjectionWatcher) processFile(ctx context.Context, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		w.markBad(path, err)
		return
	}

	var payload struct {
		Text       string `json:"text"`
		NewSession bool   `json:"new_session"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		w.markBad(path, err)
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("inject: failed to remove dispatched file", "path", path, "error", err)
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		w.logger.Warn("inject: empty text, skipping", "path", filepath.Base(path))
		return
	}

	w.logger.Info("inject: dispatch", "text", text, "new_session", payload.NewSession, "file", filepath.Base(path))

	if payload.NewSession {
		if err := w.dispatcher.ClearSession(ctx, w.chat); err != nil {
			w.logger.Warn("inject: clear session failed", "error", err)
		}
	}

	prompt := SystemPromptPrefix + text
	if err := w.dispatcher.Dispatch(ctx, w.chat, prompt); err != nil {
		w.logger.Warn("inject: dispatch failed", "error", err)
	}
}

// markBad renames an unreadable or malformed file to "*.bad" so the watcher
// never reprocesses it, per spec.md §4.7 step 1. Best effort: a rename
// failure is logged but does not stop the loop.
func (w *InjectionWatcher) markBad(path string, cause error) {
	w.logger.Warn("inject: invalid file", "path", path, "error", cause)
	badPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".bad"
	if err := os.Rename(path, badPath); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("inject: failed to rename bad file", "path", path, "error", err)
	}
}
