package takopi

import (
	"fmt"
	"strings"
)

// Command is one parsed chat command recognized before any prompt reaches a
// Runner, per spec.md §6's "Chat commands" surface:
// /sessions [engine], /switch <prefix>, /name <title>, /delete <prefix>,
// /new, /clear.
type Command struct {
	Name string // "sessions", "switch", "name", "delete", "new", "clear"
	Arg  string
}

// ParseCommand recognizes a leading chat command in text. ok is false when
// text isn't a recognized command, in which case the caller should treat it
// as a normal prompt.
func ParseCommand(text string) (cmd Command, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{}, false
	}
	fields := strings.SplitN(trimmed, " ", 2)
	name := strings.TrimPrefix(fields[0], "/")
	arg := ""
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}
	switch name {
	case "sessions", "switch", "name", "delete", "new", "clear":
		return Command{Name: name, Arg: arg}, true
	default:
		return Command{}, false
	}
}

// CommandRouter dispatches recognized Commands against a SessionStore,
// structural-dispatch style (grounded on internal/bot/router.go's
// no-intent-classification-needed shape): each command is handled directly,
// with no fallthrough to a Runner for /sessions, /switch, /name, /delete,
// /new, /clear. Prefix matching for /switch and /delete follows
// chat_sessions.py's resume-id-keyed history: a unique prefix match wins, no
// match or an ambiguous prefix is reported as an error string.
type CommandRouter struct {
	store SessionStore
}

// NewCommandRouter builds a CommandRouter over store.
func NewCommandRouter(store SessionStore) *CommandRouter {
	return &CommandRouter{store: store}
}

// Handle executes cmd for key/engine and returns the text to reply with.
// engine is the chat's currently selected engine, used by /new and /name.
// /sessions filters only by its own argument and lists every engine without one.
func (r *CommandRouter) Handle(key ChatKey, engine EngineId, cmd Command) (string, error) {
	switch cmd.Name {
	case "sessions":
		filter := EngineId(cmd.Arg)
		sessions, err := r.store.ListSessions(key, filter)
		if err != nil {
			return "", err
		}
		return formatSessionList(sessions), nil

	case "switch":
		if cmd.Arg == "" {
			return "usage: /switch <prefix>", nil
		}
		resume, err := r.resolvePrefix(key, cmd.Arg)
		if err != nil {
			return err.Error(), nil
		}
		session, found, err := r.store.SwitchSession(key, resume)
		if err != nil {
			return "", err
		}
		if !found {
			return fmt.Sprintf("no session matching %q", cmd.Arg), nil
		}
		return fmt.Sprintf("switched to session %s (%s)", shortID(session.Resume), session.Engine), nil

	case "name":
		if cmd.Arg == "" {
			return "usage: /name <title>", nil
		}
		ok, err := r.store.NameSession(key, engine, cmd.Arg)
		if err != nil {
			return "", err
		}
		if !ok {
			return "no active session to name", nil
		}
		return fmt.Sprintf("named session %q", cmd.Arg), nil

	case "delete":
		if cmd.Arg == "" {
			return "usage: /delete <prefix>", nil
		}
		resume, err := r.resolvePrefix(key, cmd.Arg)
		if err != nil {
			return err.Error(), nil
		}
		ok, err := r.store.DeleteSession(key, resume)
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("no session matching %q", cmd.Arg), nil
		}
		return fmt.Sprintf("deleted session %s", shortID(resume)), nil

	case "new":
		if err := r.store.NewSession(key, engine); err != nil {
			return "", err
		}
		return "started a new session", nil

	case "clear":
		if err := r.store.ClearSessions(key); err != nil {
			return "", err
		}
		return "cleared active sessions (history kept)", nil

	default:
		return "", fmt.Errorf("commands: unrecognized command %q", cmd.Name)
	}
}

// resolvePrefix finds the unique session resume id starting with prefix
// across every engine in this chat's history.
func (r *CommandRouter) resolvePrefix(key ChatKey, prefix string) (string, error) {
	sessions, err := r.store.ListSessions(key, "")
	if err != nil {
		return "", err
	}
	var matches []string
	for _, s := range sessions {
		if strings.HasPrefix(s.Resume, prefix) {
			matches = append(matches, s.Resume)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no session matching %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous prefix %q matches %d sessions", prefix, len(matches))
	}
}

func formatSessionList(sessions []SessionInfo) string {
	if len(sessions) == 0 {
		return "no sessions"
	}
	var b strings.Builder
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = s.FirstMessage
		}
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "%s [%s] %s\n", shortID(s.Resume), s.Engine, title)
	}
	return strings.TrimRight(b.String(), "\n")
}

// shortID returns a short display prefix of a resume id, long enough to
// disambiguate in practice without printing the full token.
func shortID(resume string) string {
	const n = 8
	if len(resume) <= n {
		return resume
	}
	return resume[:n]
}
