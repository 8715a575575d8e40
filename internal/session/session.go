// Package session implements the Session Manager: login, resume,
// disconnect, and heartbeat, plus the verifyActive authentication gate
// used by every other tracker RPC (spec §4.3).
package session

import (
	"context"
	"log/slog"

	"github.com/anton-mishchenko/p2p-tracker/internal/auth"
	"github.com/anton-mishchenko/p2p-tracker/internal/peertable"
	"github.com/anton-mishchenko/p2p-tracker/internal/storage"
	"github.com/anton-mishchenko/p2p-tracker/internal/tags"
)

// Manager ties the Active Peer Table to the Persistence Gateway.
type Manager struct {
	table   *peertable.Table
	storage *storage.DB
	logger  *slog.Logger
}

// New constructs a Manager. table must already be sized to MAX_USERS;
// trackerd builds the table from the configured max_users before
// constructing a Manager. The NOT_READY reply (spec §5) is produced one
// layer up, by trackerapi's Ready gate.
func New(table *peertable.Table, store *storage.DB, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{table: table, storage: store, logger: logger}
}

// Login authenticates or creates a peer account and issues a session
// token. See spec §4.3.
func (m *Manager) Login(ctx context.Context, name, password, ip string, port int) (tag, token string, err error) {
	if !m.table.HasSpace() {
		return tags.Full, "", nil
	}
	if _, ok := m.table.Find(name); ok {
		return tags.Copy, "", nil
	}

	u, exists, err := m.storage.FetchUser(ctx, name)
	if err != nil {
		m.logger.Error("login: fetch user failed", "name", name, "error", err)
		return tags.Error, "", nil
	}

	if !exists {
		tok, err := m.issueToken()
		if err != nil {
			m.logger.Error("login: token issuance failed", "name", name, "error", err)
			return tags.Error, "", nil
		}
		hash, err := auth.HashPassword(password, auth.DefaultArgon2Params())
		if err != nil {
			m.logger.Error("login: password hashing failed", "name", name, "error", err)
			return tags.Error, "", nil
		}
		if err := m.storage.InsertUser(ctx, name, hash, ip, port); err != nil {
			m.logger.Error("login: insert user failed", "name", name, "error", err)
			return tags.Error, "", nil
		}
		if err := m.table.Add(name, tok); err != nil {
			m.logger.Error("login: add session failed after insert", "name", name, "error", err)
			return tags.Error, "", nil
		}
		return tags.New, tok, nil
	}

	ok, err := auth.VerifyPassword(password, u.PassHash)
	if err != nil {
		m.logger.Error("login: password verify failed", "name", name, "error", err)
		return tags.Error, "", nil
	}
	if !ok {
		return tags.Password, "", nil
	}

	changed, err := m.reconcileIPPort(ctx, name, u, ip, port)
	if err != nil {
		m.logger.Error("login: ip/port reconcile failed", "name", name, "error", err)
		return tags.Error, "", nil
	}

	tok, err := m.issueToken()
	if err != nil {
		m.logger.Error("login: token issuance failed", "name", name, "error", err)
		return tags.Error, "", nil
	}
	if err := m.table.Add(name, tok); err != nil {
		m.logger.Error("login: add session failed", "name", name, "error", err)
		return tags.Error, "", nil
	}

	if changed {
		return tags.Update, tok, nil
	}
	return tags.OK, tok, nil
}

// Resume re-authenticates a peer whose transport dropped but whose
// server-side session still lives, rotating its token (spec §4.3).
func (m *Manager) Resume(ctx context.Context, token, name, ip string, port int) (tag, newToken string, err error) {
	if !m.verifyActive(name, token) {
		return tags.Cred, "", nil
	}

	u, exists, err := m.storage.FetchUser(ctx, name)
	if err != nil {
		m.logger.Error("resume: fetch user failed", "name", name, "error", err)
		return tags.Error, "", nil
	}
	if !exists {
		// A live session with no backing user row should not happen
		// (login always creates the row before the session); treat it
		// as an internal error rather than a credential mismatch.
		m.logger.Error("resume: live session has no backing user row", "name", name)
		return tags.Error, "", nil
	}

	changed, err := m.reconcileIPPort(ctx, name, u, ip, port)
	if err != nil {
		m.logger.Error("resume: ip/port reconcile failed", "name", name, "error", err)
		return tags.Error, "", nil
	}

	tok, err := m.issueToken()
	if err != nil {
		m.logger.Error("resume: token issuance failed", "name", name, "error", err)
		return tags.Error, "", nil
	}
	if !m.table.Rotate(name, tok) {
		m.logger.Error("resume: rotate failed, session vanished mid-call", "name", name)
		return tags.Error, "", nil
	}

	if changed {
		return tags.Update, tok, nil
	}
	return tags.OK, tok, nil
}

// Disconnect authenticates and removes the live session (spec §4.3).
func (m *Manager) Disconnect(token, name string) (tag string, err error) {
	if !m.verifyActive(name, token) {
		return tags.Cred, nil
	}
	if !m.table.Remove(name, token) {
		m.logger.Error("disconnect: remove failed after successful auth", "name", name)
		return tags.Error, nil
	}
	return tags.OK, nil
}

// Heartbeat authenticates and refreshes last_active (spec §4.3).
func (m *Manager) Heartbeat(token, name string) (tag string, err error) {
	if !m.verifyActive(name, token) {
		return tags.Cred, nil
	}
	m.table.Touch(name)
	return tags.OK, nil
}

// verifyActive is the authentication gate used by every non-login
// operation: the session for name must exist and its token must match
// byte-for-byte.
func (m *Manager) verifyActive(name, token string) bool {
	return m.table.Authenticate(name, token)
}

// reconcileIPPort updates ip and/or port as separate storage calls when
// they differ from the stored values, and reports whether either changed.
func (m *Manager) reconcileIPPort(ctx context.Context, name string, u storage.User, ip string, port int) (bool, error) {
	changed := false
	if ip != "" && ip != u.IP {
		if err := m.storage.UpdateUserIP(ctx, name, ip); err != nil {
			return false, err
		}
		changed = true
	}
	if port != 0 && port != u.Port {
		if err := m.storage.UpdateUserPort(ctx, name, port); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// issueToken generates a token and retries on the astronomically unlikely
// event of a collision with a currently live session (spec §4.3/§9).
func (m *Manager) issueToken() (string, error) {
	for {
		tok, err := auth.NewToken(32)
		if err != nil {
			return "", err
		}
		collision := false
		for _, s := range m.table.List() {
			if s.Token == tok {
				collision = true
				break
			}
		}
		if !collision {
			return tok, nil
		}
	}
}
