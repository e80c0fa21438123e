package session

import "sync"

// Identity is the non-secret identity a session registers process-wide.
type Identity struct {
	SessionID string
	Handle    string
	DID       string
	PDSURL    string
}

// Directory is the process-wide registry of live session identities,
// keyed by session ID. It is constructed once at startup and injected
// into every consumer; there is no ambient global lookup.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]Identity
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]Identity)}
}

// Register adds or replaces the identity for a session.
func (d *Directory) Register(id Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[id.SessionID] = id
}

// Lookup returns the identity registered for a session, if any.
func (d *Directory) Lookup(sessionID string) (Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.entries[sessionID]
	return id, ok
}

// Deregister removes a session's identity. No-op if absent.
func (d *Directory) Deregister(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, sessionID)
}
