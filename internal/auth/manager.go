// Package auth provides password hashing, cookie sessions, the
// authentication gate and passkey login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/evcraddock/incident-board/internal/user"
)

var (
	// ErrInvalidCredentials is the common cause of every failed login.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUnknownUser is a failed login for a name that does not exist.
	ErrUnknownUser = fmt.Errorf("%w: incorrect username", ErrInvalidCredentials)
	// ErrWrongPassword is a failed login with a bad password.
	ErrWrongPassword = fmt.Errorf("%w: incorrect password", ErrInvalidCredentials)
)

// Verifier is the credential-verification strategy.
type Verifier interface {
	Verify(ctx context.Context, name, password string) (*user.User, error)
}

// Options configures a Manager.
type Options struct {
	// SessionTTL bounds session lifetime. Zero means sessions live until
	// logout and the cookie is a browser-session cookie.
	SessionTTL    time.Duration
	SecureCookies bool
}

// Manager issues, resolves and destroys sessions.
type Manager struct {
	users    user.Store
	sessions SessionBackend
	hasher   *Hasher
	opts     Options

	dummyOnce sync.Once
	dummyHash string
}

var _ Verifier = (*Manager)(nil)

// NewManager creates a session manager.
func NewManager(users user.Store, sessions SessionBackend, hasher *Hasher, opts Options) *Manager {
	return &Manager{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		opts:     opts,
	}
}

// Signup hashes password and creates the user. The name is stored exactly
// as given; an all-blank name is rejected. Returns user.ErrNameTaken if the
// name is in use.
func (m *Manager) Signup(ctx context.Context, name, password string) (*user.User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, user.ErrNameRequired
	}
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	return m.users.Create(ctx, name, hash)
}

// Verify checks name and password. Failures wrap ErrInvalidCredentials;
// any other error comes from the store.
func (m *Manager) Verify(ctx context.Context, name, password string) (*user.User, error) {
	u, err := m.users.GetByName(ctx, name)
	if errors.Is(err, user.ErrNotFound) {
		// Spend the same bcrypt work as a real check.
		m.hasher.Verify(password, m.dummy())
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if !m.hasher.Verify(password, u.PasswordHash) {
		return nil, ErrWrongPassword
	}
	return u, nil
}

// Login verifies credentials and, on success, starts a session and sets
// the session cookie on w.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, r *http.Request, name, password string) (*user.User, error) {
	u, err := m.Verify(ctx, name, password)
	if err != nil {
		return nil, err
	}
	if err := m.LoginUser(ctx, w, r, u); err != nil {
		return nil, err
	}
	return u, nil
}

// LoginUser starts a session for an already verified user. A session the
// request already carried is destroyed.
func (m *Manager) LoginUser(ctx context.Context, w http.ResponseWriter, r *http.Request, u *user.User) error {
	token, err := generateSessionID()
	if err != nil {
		return fmt.Errorf("generating session ID: %w", err)
	}

	var expiresAt time.Time
	if m.opts.SessionTTL > 0 {
		expiresAt = time.Now().Add(m.opts.SessionTTL)
	}

	if err := m.sessions.Create(ctx, token, u.ID, expiresAt); err != nil {
		return err
	}

	cookie := &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if !expiresAt.IsZero() {
		cookie.Expires = expiresAt
	}
	http.SetCookie(w, cookie)

	if old, err := r.Cookie(cookieName); err == nil && old.Value != "" && old.Value != token {
		if err := m.sessions.Delete(ctx, old.Value); err != nil {
			slog.Warn("deleting replaced session", "err", err)
		}
	}
	return nil
}

// Resolve returns the user behind the request's session cookie, or nil
// for an anonymous request. It never fails: lookup errors are logged and
// the request is treated as anonymous.
func (m *Manager) Resolve(r *http.Request) *user.User {
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	ctx := r.Context()
	userID, err := m.sessions.UserID(ctx, cookie.Value)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			slog.Warn("resolving session", "err", err)
		}
		return nil
	}

	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			slog.Debug("session references missing user", "user_id", userID)
		} else {
			slog.Warn("loading session user", "user_id", userID, "err", err)
		}
		return nil
	}
	return u
}

// Logout destroys the request's session, if any, and clears the cookie.
// The cookie is cleared even when the backend delete fails.
func (m *Manager) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil // no session to destroy
	}
	return m.sessions.Delete(ctx, cookie.Value)
}

func (m *Manager) dummy() string {
	m.dummyOnce.Do(func() {
		h, err := m.hasher.Hash("incident-board-dummy-password")
		if err != nil {
			slog.Error("hashing dummy password", "err", err)
			return
		}
		m.dummyHash = h
	})
	return m.dummyHash
}
