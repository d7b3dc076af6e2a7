package takopi

import (
	"strings"
	"testing"
)

func TestParseCommandRecognizesKnownCommands(t *testing.T) {
	cases := []struct {
		text     string
		wantName string
		wantArg  string
	}{
		{"/sessions", "sessions", ""},
		{"/sessions codex", "sessions", "codex"},
		{"/switch ab12", "switch", "ab12"},
		{"/name my title", "name", "my title"},
		{"/new", "new", ""},
		{"/clear", "clear", ""},
	}
	for _, c := range cases {
		cmd, ok := ParseCommand(c.text)
		if !ok || cmd.Name != c.wantName || cmd.Arg != c.wantArg {
			t.Fatalf("ParseCommand(%q) = %+v, ok=%v; want name=%q arg=%q", c.text, cmd, ok, c.wantName, c.wantArg)
		}
	}
}

func TestParseCommandRejectsNonCommands(t *testing.T) {
	for _, text := range []string{"hello", "", "/unknown", "  not a command"} {
		if _, ok := ParseCommand(text); ok {
			t.Fatalf("ParseCommand(%q) unexpectedly recognized", text)
		}
	}
}

// commandTestStore is a minimal in-memory SessionStore double for router tests.
type commandTestStore struct {
	chats map[ChatKey]*commandTestChat
}

type commandTestChat struct {
	history map[string]SessionInfo
	active  map[EngineId]string
}

func newCommandTestStore() *commandTestStore {
	return &commandTestStore{chats: map[ChatKey]*commandTestChat{}}
}

func (s *commandTestStore) chat(key ChatKey) *commandTestChat {
	c, ok := s.chats[key]
	if !ok {
		c = &commandTestChat{history: map[string]SessionInfo{}, active: map[EngineId]string{}}
		s.chats[key] = c
	}
	return c
}

func (s *commandTestStore) seed(key ChatKey, info SessionInfo) {
	c := s.chat(key)
	c.history[info.Resume] = info
	c.active[info.Engine] = info.Resume
}

func (s *commandTestStore) GetSessionResume(key ChatKey, engine EngineId) (ResumeToken, bool) {
	c := s.chat(key)
	r, ok := c.active[engine]
	if !ok {
		return ResumeToken{}, false
	}
	return ResumeToken{Engine: engine, Value: r}, true
}

func (s *commandTestStore) SetSessionResume(key ChatKey, token ResumeToken, firstMessage string) error {
	c := s.chat(key)
	c.history[token.Value] = SessionInfo{Resume: token.Value, Engine: token.Engine, FirstMessage: firstMessage}
	c.active[token.Engine] = token.Value
	return nil
}

func (s *commandTestStore) ClearSessions(key ChatKey) error {
	s.chat(key).active = map[EngineId]string{}
	return nil
}

func (s *commandTestStore) NewSession(key ChatKey, engine EngineId) error {
	delete(s.chat(key).active, engine)
	return nil
}

func (s *commandTestStore) ListSessions(key ChatKey, engine EngineId) ([]SessionInfo, error) {
	c := s.chat(key)
	var out []SessionInfo
	for _, info := range c.history {
		if engine != "" && info.Engine != engine {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *commandTestStore) GetActiveSessionID(key ChatKey, engine EngineId) (string, bool) {
	c := s.chat(key)
	r, ok := c.active[engine]
	return r, ok
}

func (s *commandTestStore) SwitchSession(key ChatKey, resume string) (SessionInfo, bool, error) {
	c := s.chat(key)
	info, ok := c.history[resume]
	if !ok {
		return SessionInfo{}, false, nil
	}
	c.active[info.Engine] = resume
	return info, true, nil
}

func (s *commandTestStore) NameSession(key ChatKey, engine EngineId, title string) (bool, error) {
	c := s.chat(key)
	resume, ok := c.active[engine]
	if !ok {
		return false, nil
	}
	info := c.history[resume]
	info.Title = title
	c.history[resume] = info
	return true, nil
}

func (s *commandTestStore) DeleteSession(key ChatKey, resume string) (bool, error) {
	c := s.chat(key)
	info, ok := c.history[resume]
	if !ok {
		return false, nil
	}
	delete(c.history, resume)
	if c.active[info.Engine] == resume {
		delete(c.active, info.Engine)
	}
	return true, nil
}

func (s *commandTestStore) SyncStartupCWD(cwd string) (bool, error) { return false, nil }

var _ SessionStore = (*commandTestStore)(nil)

func TestCommandRouterSwitchUniquePrefix(t *testing.T) {
	store := newCommandTestStore()
	key := ChatKey{ChatID: 1}
	store.seed(key, SessionInfo{Resume: "abcdef01", Engine: "codex"})
	store.seed(key, SessionInfo{Resume: "zzzzzz02", Engine: "codex"})

	r := NewCommandRouter(store)
	reply, err := r.Handle(key, "codex", Command{Name: "switch", Arg: "abc"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(reply, "switched") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	active, ok := store.GetActiveSessionID(key, "codex")
	if !ok || active != "abcdef01" {
		t.Fatalf("expected abcdef01 active, got %q ok=%v", active, ok)
	}
}

func TestCommandRouterSwitchAmbiguousPrefixErrors(t *testing.T) {
	store := newCommandTestStore()
	key := ChatKey{ChatID: 1}
	store.seed(key, SessionInfo{Resume: "abc111", Engine: "codex"})
	store.seed(key, SessionInfo{Resume: "abc222", Engine: "codex"})

	r := NewCommandRouter(store)
	reply, err := r.Handle(key, "codex", Command{Name: "switch", Arg: "abc"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(reply, "ambiguous") {
		t.Fatalf("expected ambiguous-prefix error, got %q", reply)
	}
}

func TestCommandRouterSwitchNoMatchErrors(t *testing.T) {
	store := newCommandTestStore()
	key := ChatKey{ChatID: 1}
	r := NewCommandRouter(store)
	reply, err := r.Handle(key, "codex", Command{Name: "switch", Arg: "nope"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(reply, "no session") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestCommandRouterDeleteRemovesSession(t *testing.T) {
	store := newCommandTestStore()
	key := ChatKey{ChatID: 1}
	store.seed(key, SessionInfo{Resume: "abc111", Engine: "codex"})

	r := NewCommandRouter(store)
	if _, err := r.Handle(key, "codex", Command{Name: "delete", Arg: "abc"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, ok := store.GetActiveSessionID(key, "codex"); ok {
		t.Fatalf("expected active pointer cleared after delete")
	}
}

func TestCommandRouterNewClearsActiveKeepsHistory(t *testing.T) {
	store := newCommandTestStore()
	key := ChatKey{ChatID: 1}
	store.seed(key, SessionInfo{Resume: "abc111", Engine: "codex"})

	r := NewCommandRouter(store)
	if _, err := r.Handle(key, "codex", Command{Name: "new"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, ok := store.GetActiveSessionID(key, "codex"); ok {
		t.Fatalf("expected no active session after /new")
	}
	sessions, _ := store.ListSessions(key, "")
	if len(sessions) != 1 {
		t.Fatalf("expected history preserved, got %d sessions", len(sessions))
	}
}

func TestCommandRouterSessionsFormatsList(t *testing.T) {
	store := newCommandTestStore()
	key := ChatKey{ChatID: 1}
	store.seed(key, SessionInfo{Resume: "abc111", Engine: "codex", Title: "my task"})

	r := NewCommandRouter(store)
	reply, err := r.Handle(key, "codex", Command{Name: "sessions"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(reply, "my task") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}
