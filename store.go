package takopi

// SessionInfo is one remembered conversation: the resume token is its
// identity. FirstMessage is capped at 100 bytes by the store on write.
type SessionInfo struct {
	Resume       string   `json:"resume"`
	Engine       EngineId `json:"engine"`
	Title        string   `json:"title,omitempty"`
	FirstMessage string   `json:"first_message,omitempty"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`
}

// ChatKey scopes store operations to one chat and (optionally) one owner
// within it. Serializes as "{chat_id}:{owner_id or 'chat'}".
type ChatKey struct {
	ChatID   int64
	OwnerID  int64
	HasOwner bool
}

func (k ChatKey) String() string {
	owner := "chat"
	if k.HasOwner {
		owner = formatInt64(k.OwnerID)
	}
	return formatInt64(k.ChatID) + ":" + owner
}

func formatInt64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SessionStore is the persistent, crash-safe, concurrency-safe per-chat
// session history described by spec.md §4.5. All operations are scoped by
// ChatKey. Implementations must guard every mutation with an internal mutex
// and reload from disk whenever the backing file's mtime has advanced,
// giving cooperative last-writer-wins safety across processes.
type SessionStore interface {
	// GetSessionResume returns the active resume token for engine in this
	// chat, or ok=false if none is set.
	GetSessionResume(key ChatKey, engine EngineId) (token ResumeToken, ok bool)
	// SetSessionResume upserts the session history entry for token and
	// marks it active for its engine, then prunes per MaxSessionsPerChat.
	SetSessionResume(key ChatKey, token ResumeToken, firstMessage string) error
	// ClearSessions clears all active pointers for a chat, preserving history.
	ClearSessions(key ChatKey) error
	// NewSession clears the active pointer for one engine, preserving history.
	NewSession(key ChatKey, engine EngineId) error
	// ListSessions returns sessions for a chat (optionally filtered to one
	// engine) sorted by UpdatedAt descending.
	ListSessions(key ChatKey, engine EngineId) ([]SessionInfo, error)
	// GetActiveSessionID returns the active resume value for an engine, or
	// ok=false if none.
	GetActiveSessionID(key ChatKey, engine EngineId) (resume string, ok bool)
	// SwitchSession makes resume the active session for its engine and
	// bumps its UpdatedAt, returning the session. ok is false if resume is
	// unknown.
	SwitchSession(key ChatKey, resume string) (SessionInfo, bool, error)
	// NameSession sets the title of the active session for engine. ok is
	// false if there is no active session for that engine.
	NameSession(key ChatKey, engine EngineId, title string) (bool, error)
	// DeleteSession removes resume from history, clearing any active
	// pointer that referenced it. ok is false if resume was unknown.
	DeleteSession(key ChatKey, resume string) (bool, error)
	// SyncStartupCWD records the working directory on first call; if a
	// later call observes a different directory, every chat's history is
	// erased and changed is true.
	SyncStartupCWD(cwd string) (changed bool, err error)
}

// MaxSessionsPerChat is the per-engine LRU ceiling enforced by
// SetSessionResume (spec.md §4.5 "Pruning").
const MaxSessionsPerChat = 20
