package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const cookieName = "ib_session"

// ErrSessionNotFound is returned when a token is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// SessionBackend is the token table behind the session manager.
// Implementations must be safe for concurrent use.
type SessionBackend interface {
	// Create stores token for userID. A zero expiresAt never expires.
	Create(ctx context.Context, token, userID string, expiresAt time.Time) error
	// UserID returns the user bound to token, or ErrSessionNotFound.
	UserID(ctx context.Context, token string) (string, error)
	// Delete removes token. Deleting an unknown token is not an error.
	Delete(ctx context.Context, token string) error
}

// SessionStore keeps sessions in SQLite.
type SessionStore struct {
	db *sql.DB
}

var _ SessionBackend = (*SessionStore)(nil)

// NewSessionStore creates a session store.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, token, userID string, expiresAt time.Time) error {
	var expires sql.NullTime
	if !expiresAt.IsZero() {
		expires = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expires,
	); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// UserID looks up the user bound to token.
func (s *SessionStore) UserID(ctx context.Context, token string) (string, error) {
	var userID string
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, expires_at FROM sessions WHERE id = ?",
		token,
	).Scan(&userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying session: %w", err)
	}

	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		// Clean up expired session
		if err := s.Delete(ctx, token); err != nil {
			return "", fmt.Errorf("deleting expired session: %w", err)
		}
		return "", ErrSessionNotFound
	}

	return userID, nil
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", token); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Cleanup removes expired sessions. Sessions without expiry are kept.
func (s *SessionStore) Cleanup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at < ?",
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("cleaning up sessions: %w", err)
	}
	return nil
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
