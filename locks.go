package takopi

import "sync"

// lockRegistry maps a ResumeToken key to a mutex, handing the same mutex
// back to every caller that presents an equal token while retaining it,
// and reclaiming the entry once nobody references it. Go has no weak map,
// so the "weak retention" from original_source's WeakValueDictionary is
// translated into explicit refcounting: each checkout bumps a refcount,
// each release decrements it, and the entry is deleted from the table the
// moment the count reaches zero.
type lockRegistry struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu       sync.Mutex
	refcount int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{entries: make(map[string]*lockEntry)}
}

// NewLockRegistry constructs the shared lock registry a process's Runners
// must all be built with, so resume tokens never spuriously collide or
// fail to serialize across engines. The returned value's type is
// unexported; callers hold it opaquely and pass it straight to NewRunner.
func NewLockRegistry() *lockRegistry {
	return newLockRegistry()
}

func lockKey(t ResumeToken) string {
	return string(t.Engine) + ":" + t.Value
}

// acquire blocks until the mutex for t is held, and returns a release
// function that must be called exactly once. Two ResumeTokens that compare
// equal always serialize against each other; distinct tokens never contend.
func (r *lockRegistry) acquire(t ResumeToken) func() {
	key := lockKey(t)

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &lockEntry{}
		r.entries[key] = e
	}
	e.refcount++
	r.mu.Unlock()

	e.mu.Lock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		e.mu.Unlock()

		r.mu.Lock()
		e.refcount--
		if e.refcount == 0 {
			delete(r.entries, key)
		}
		r.mu.Unlock()
	}
}

// size reports the number of live (referenced) entries. Exposed for tests
// asserting no permanent growth.
func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
