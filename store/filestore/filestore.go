// Package filestore implements takopi.SessionStore as a single JSON file on
// disk, schema-versioned and safe for cooperative use by multiple processes
// sharing the same path. Grounded on original_source's
// telegram/chat_sessions.py (ChatSessionStore) for operation semantics and
// wingedpig-trellis/internal/claude/claudecli.go's updateSessionsIndex for
// the atomic temp-file-then-rename write pattern.
package filestore

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hotaru-dev/takopi"
)

const stateVersion = 2

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. A Debug-level record
// is emitted when legacy sessions are migrated on load; other operations do
// not log. A discarding no-op logger is the default.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the Metrics counting sessions created/pruned (C16). A
// no-op Metrics is the default.
func WithMetrics(m takopi.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// noopHandler discards every record. Grounded on store/sqlite.go's
// discardHandler, generalized across every component in this module.
type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h noopHandler) WithGroup(string) slog.Handler            { return h }

// Store implements takopi.SessionStore backed by one JSON file. One
// process-global instance is expected per path; all mutating operations
// serialize through mu, and every operation reloads from disk first if the
// file's mtime has advanced since the last load.
type Store struct {
	path    string
	logger  *slog.Logger
	metrics takopi.Metrics

	mu        sync.Mutex
	loaded    bool
	lastMTime time.Time
	state     fileState
}

// fileState mirrors spec.md §3's StoreState.
type fileState struct {
	Version int                     `json:"version"`
	CWD     string                  `json:"cwd,omitempty"`
	Chats   map[string]*chatState   `json:"chats"`
}

type chatState struct {
	History map[string]takopi.SessionInfo `json:"history"`
	Active  map[string]string             `json:"active"`
	// Sessions is the pre-v2 legacy field; always written back as null.
	Sessions json.RawMessage `json:"sessions"`
}

// legacyChatState is only used to detect and read the pre-v2 shape during
// migration; its "sessions" field held {engine: {resume: string}}.
type legacyChatState struct {
	Sessions map[string]struct {
		Resume string `json:"resume"`
	} `json:"sessions"`
}

// New constructs a Store backed by path. The file is created lazily on
// first write; reads before that return empty results.
func New(path string, opts ...StoreOption) *Store {
	s := &Store{path: path, logger: slog.New(noopHandler{}), metrics: takopi.NopMetrics}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) ensureLoadedLocked() error {
	info, statErr := os.Stat(s.path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			if !s.loaded {
				s.state = fileState{Version: stateVersion, Chats: make(map[string]*chatState)}
				s.loaded = true
			}
			return nil
		}
		return statErr
	}

	mtime := info.ModTime()
	if s.loaded && !mtime.After(s.lastMTime) {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var st fileState
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &st); err != nil {
			return err
		}
	}
	if st.Chats == nil {
		st.Chats = make(map[string]*chatState)
	}

	migrated := migrate(raw, &st)
	if st.Version == 0 {
		st.Version = stateVersion
	}
	s.state = st
	s.loaded = true
	s.lastMTime = mtime
	if migrated {
		s.logger.Debug("filestore: migrated legacy sessions on load")
	}
	return nil
}

// migrate converts any pre-v2 legacy "sessions" mapping found in raw into
// v2 history/active entries on st, per spec.md §4.5 "Migration". Returns
// whether any chat was migrated.
func migrate(raw []byte, st *fileState) bool {
	if st.Version >= stateVersion {
		return false
	}

	var legacyTop struct {
		Chats map[string]legacyChatState `json:"chats"`
	}
	if err := json.Unmarshal(raw, &legacyTop); err != nil {
		st.Version = stateVersion
		return false
	}

	now := takopi.NowUnix()
	any := false
	for chatKey, legacy := range legacyTop.Chats {
		if len(legacy.Sessions) == 0 {
			continue
		}
		cs, ok := st.Chats[chatKey]
		if !ok {
			cs = &chatState{}
			st.Chats[chatKey] = cs
		}
		if cs.History == nil {
			cs.History = make(map[string]takopi.SessionInfo)
		}
		if cs.Active == nil {
			cs.Active = make(map[string]string)
		}
		for engine, sess := range legacy.Sessions {
			if sess.Resume == "" {
				continue
			}
			cs.History[sess.Resume] = takopi.SessionInfo{
				Resume:    sess.Resume,
				Engine:    takopi.EngineId(engine),
				CreatedAt: now,
				UpdatedAt: now,
			}
			cs.Active[engine] = sess.Resume
		}
		cs.Sessions = nil
		any = true
	}
	st.Version = stateVersion
	return any
}

// persistLocked atomically writes s.state to s.path: write to a sibling
// temp file, fsync, rename into place. Grounded on claudecli.go's
// updateSessionsIndex, extended with File.Sync() per spec.md's explicit
// fsync requirement (the teacher example omits it).
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if info, err := os.Stat(s.path); err == nil {
		s.lastMTime = info.ModTime()
	}
	return nil
}

func (s *Store) chatLocked(key takopi.ChatKey) *chatState {
	k := key.String()
	cs, ok := s.state.Chats[k]
	if !ok {
		cs = &chatState{History: make(map[string]takopi.SessionInfo), Active: make(map[string]string)}
		s.state.Chats[k] = cs
	}
	if cs.History == nil {
		cs.History = make(map[string]takopi.SessionInfo)
	}
	if cs.Active == nil {
		cs.Active = make(map[string]string)
	}
	return cs
}

// GetSessionResume implements takopi.SessionStore.
func (s *Store) GetSessionResume(key takopi.ChatKey, engine takopi.EngineId) (takopi.ResumeToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return takopi.ResumeToken{}, false
	}
	cs := s.chatLocked(key)
	resume, ok := cs.Active[string(engine)]
	if !ok {
		return takopi.ResumeToken{}, false
	}
	if _, ok := cs.History[resume]; !ok {
		return takopi.ResumeToken{}, false
	}
	return takopi.ResumeToken{Engine: engine, Value: resume}, true
}

const maxFirstMessageBytes = 100

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// SetSessionResume implements takopi.SessionStore.
func (s *Store) SetSessionResume(key takopi.ChatKey, token takopi.ResumeToken, firstMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}

	cs := s.chatLocked(key)
	now := takopi.NowUnix()

	existing, exists := cs.History[token.Value]
	if !exists {
		cs.History[token.Value] = takopi.SessionInfo{
			Resume:       token.Value,
			Engine:       token.Engine,
			FirstMessage: truncateBytes(firstMessage, maxFirstMessageBytes),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.metrics.SessionCreated(token.Engine)
	} else {
		existing.UpdatedAt = now
		if existing.FirstMessage == "" {
			existing.FirstMessage = truncateBytes(firstMessage, maxFirstMessageBytes)
		}
		cs.History[token.Value] = existing
	}
	cs.Active[string(token.Engine)] = token.Value

	s.pruneLocked(cs, token.Engine)

	return s.persistLocked()
}

// pruneLocked removes the oldest sessions for engine beyond
// takopi.MaxSessionsPerChat, never evicting the currently-active one.
func (s *Store) pruneLocked(cs *chatState, engine takopi.EngineId) {
	active := cs.Active[string(engine)]

	type entry struct {
		resume string
		info   takopi.SessionInfo
	}
	var sessions []entry
	for resume, info := range cs.History {
		if info.Engine == engine {
			sessions = append(sessions, entry{resume, info})
		}
	}
	if len(sessions) <= takopi.MaxSessionsPerChat {
		return
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].info.UpdatedAt < sessions[j].info.UpdatedAt })

	toRemove := len(sessions) - takopi.MaxSessionsPerChat
	removed := 0
	for _, e := range sessions {
		if removed >= toRemove {
			break
		}
		if e.resume == active {
			continue
		}
		delete(cs.History, e.resume)
		removed++
		s.metrics.SessionPruned(engine)
	}
}

// ClearSessions implements takopi.SessionStore.
func (s *Store) ClearSessions(key takopi.ChatKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	cs := s.chatLocked(key)
	cs.Active = make(map[string]string)
	return s.persistLocked()
}

// NewSession implements takopi.SessionStore.
func (s *Store) NewSession(key takopi.ChatKey, engine takopi.EngineId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	cs := s.chatLocked(key)
	delete(cs.Active, string(engine))
	return s.persistLocked()
}

// ListSessions implements takopi.SessionStore.
func (s *Store) ListSessions(key takopi.ChatKey, engine takopi.EngineId) ([]takopi.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	cs := s.chatLocked(key)

	var out []takopi.SessionInfo
	for _, info := range cs.History {
		if engine != "" && info.Engine != engine {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

// GetActiveSessionID implements takopi.SessionStore.
func (s *Store) GetActiveSessionID(key takopi.ChatKey, engine takopi.EngineId) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return "", false
	}
	cs := s.chatLocked(key)
	resume, ok := cs.Active[string(engine)]
	return resume, ok
}

// SwitchSession implements takopi.SessionStore.
func (s *Store) SwitchSession(key takopi.ChatKey, resume string) (takopi.SessionInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return takopi.SessionInfo{}, false, err
	}
	cs := s.chatLocked(key)
	info, ok := cs.History[resume]
	if !ok {
		return takopi.SessionInfo{}, false, nil
	}
	info.UpdatedAt = takopi.NowUnix()
	cs.History[resume] = info
	cs.Active[string(info.Engine)] = resume
	if err := s.persistLocked(); err != nil {
		return takopi.SessionInfo{}, false, err
	}
	return info, true, nil
}

// NameSession implements takopi.SessionStore.
func (s *Store) NameSession(key takopi.ChatKey, engine takopi.EngineId, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return false, err
	}
	cs := s.chatLocked(key)
	resume, ok := cs.Active[string(engine)]
	if !ok {
		return false, nil
	}
	info, ok := cs.History[resume]
	if !ok {
		return false, nil
	}
	info.Title = truncateBytes(title, 50)
	cs.History[resume] = info
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteSession implements takopi.SessionStore.
func (s *Store) DeleteSession(key takopi.ChatKey, resume string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return false, err
	}
	cs := s.chatLocked(key)
	info, ok := cs.History[resume]
	if !ok {
		return false, nil
	}
	delete(cs.History, resume)
	if cs.Active[string(info.Engine)] == resume {
		delete(cs.Active, string(info.Engine))
	}
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// SyncStartupCWD implements takopi.SessionStore.
func (s *Store) SyncStartupCWD(cwd string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return false, err
	}

	normalized, err := normalizePath(cwd)
	if err != nil {
		return false, err
	}

	changed := s.state.CWD != "" && s.state.CWD != normalized
	if changed {
		s.state.Chats = make(map[string]*chatState)
	}
	if s.state.CWD != normalized {
		s.state.CWD = normalized
		if err := s.persistLocked(); err != nil {
			return false, err
		}
	}
	return changed, nil
}

func normalizePath(p string) (string, error) {
	expanded := p
	if len(p) > 0 && p[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, p[1:])
		}
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path may not exist yet (fresh checkout); fall back to the
		// absolute, non-resolved form rather than failing startup.
		return abs, nil
	}
	return resolved, nil
}

var _ takopi.SessionStore = (*Store)(nil)
