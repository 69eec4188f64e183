// Package registry tracks which remote-browser session, if any, is active
// for a given (user, target URL) pair so repeated start requests attach to
// the existing session instead of spawning a duplicate browser.
//
// The map is process-wide, in-memory state. A restart invalidates all
// bookkeeping, which is acceptable because the engine's browser processes
// are children of this process and die with it.
package registry

import (
	"sync"
	"time"
)

type Entry struct {
	SessionID    string
	UserID       string
	TargetURL    string
	RegisteredAt time.Time
}

type Registry struct {
	mu      sync.RWMutex
	byKey   map[key]*Entry
	byID    map[string]key
	nowFunc func() time.Time
}

type key struct {
	userID string
	url    string
}

func New() *Registry {
	return &Registry{
		byKey:   make(map[key]*Entry),
		byID:    make(map[string]key),
		nowFunc: time.Now,
	}
}

// Register records sessionID as the active session for (userID, url).
// Last writer wins; a prior entry for the same key is replaced and its
// sessionID index dropped. Callers that want reuse must check Existing first.
func (r *Registry) Register(sessionID, userID, url string) {
	k := key{userID: userID, url: url}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byKey[k]; ok {
		delete(r.byID, prev.SessionID)
	}
	r.byKey[k] = &Entry{
		SessionID:    sessionID,
		UserID:       userID,
		TargetURL:    url,
		RegisteredAt: r.nowFunc(),
	}
	r.byID[sessionID] = k
}

func (r *Registry) HasActive(userID, url string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byKey[key{userID: userID, url: url}]
	return ok
}

// Existing returns the active entry for (userID, url), or nil.
func (r *Registry) Existing(userID, url string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byKey[key{userID: userID, url: url}]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// Unregister removes the entry for sessionID. Unknown IDs are a no-op.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byID[sessionID]
	if !ok {
		return
	}
	delete(r.byID, sessionID)
	// Only drop the key entry if it still points at this session; a
	// last-writer-wins Register may have replaced it already.
	if e, ok := r.byKey[k]; ok && e.SessionID == sessionID {
		delete(r.byKey, k)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// Entries returns a snapshot of all registered entries.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.byKey))
	for _, e := range r.byKey {
		out = append(out, *e)
	}
	return out
}
