// Package peertable implements the Active Peer Table: the in-memory
// bounded map of logged-in peers keyed by name, guarded by a single mutex
// per spec §4.2/§5. It is re-expressed from the fixed slot array in
// original_source/server/ActiveUsers.java as a Go map with copy-out
// snapshot semantics.
package peertable

import (
	"sync"
	"time"
)

// Session is one live peer session held in the table.
type Session struct {
	Name       string
	Token      string
	LastActive int64
}

// ErrFull is returned by Add when the table is already at capacity.
type ErrFull struct{}

func (ErrFull) Error() string { return "active peer table is full" }

// Table is the Active Peer Table. The zero value is not usable; use New.
type Table struct {
	mu       sync.Mutex
	maxUsers int
	sessions map[string]*Session
}

// New constructs a Table bounded to maxUsers live sessions.
func New(maxUsers int) *Table {
	return &Table{
		maxUsers: maxUsers,
		sessions: make(map[string]*Session, maxUsers),
	}
}

// Add inserts a new session for name if capacity allows and name is not
// already present; returns ErrFull otherwise. Session Manager checks for
// an existing session itself (to raise the more specific COPY tag) before
// ever calling Add, so in practice this second branch is a backstop.
func (t *Table) Add(name, token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[name]; exists {
		return ErrFull{}
	}
	if len(t.sessions) >= t.maxUsers {
		return ErrFull{}
	}
	t.sessions[name] = &Session{Name: name, Token: token, LastActive: time.Now().Unix()}
	return nil
}

// Remove deletes the session for name only if token matches exactly.
// Reports whether a session was removed.
func (t *Table) Remove(name, token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[name]
	if !ok || s.Token != token {
		return false
	}
	delete(t.sessions, name)
	return true
}

// RemoveByName unconditionally removes the session for name, regardless
// of token. Used by the Reaper, which evicts on liveness alone.
func (t *Table) RemoveByName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, name)
}

// Find returns a copy of the session for name, if present.
func (t *Table) Find(name string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[name]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// List returns a deep-copy snapshot of every live session, safe to
// iterate after the internal mutex has been released.
func (t *Table) List() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out
}

// Touch sets last_active to the current time for name, if present.
func (t *Table) Touch(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[name]; ok {
		s.LastActive = time.Now().Unix()
	}
}

// Authenticate is the verifyActive gate shared by every non-login
// operation (spec §4.3/§4.9): it accepts iff a session exists for name
// and its stored token equals the supplied token byte-for-byte.
func (t *Table) Authenticate(name, token string) bool {
	s, ok := t.Find(name)
	if !ok {
		return false
	}
	return s.Token == token
}

// IsActive reports whether name currently has a live session, used by
// the File Index's liveness filter on Search/HostLookup.
func (t *Table) IsActive(name string) bool {
	_, ok := t.Find(name)
	return ok
}

// HasSpace reports whether another session could currently be added.
func (t *Table) HasSpace() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions) < t.maxUsers
}

// Size returns the current number of live sessions.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Rotate swaps the token for an existing session under the same name,
// used by Resume's token-rotation step. Reports whether the session
// existed.
func (t *Table) Rotate(name, newToken string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[name]
	if !ok {
		return false
	}
	s.Token = newToken
	return true
}
