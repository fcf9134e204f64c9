package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/evcraddock/incident-board/internal/user"
)

// ErrPasskeyNotFound is returned when deleting an unknown credential.
var ErrPasskeyNotFound = errors.New("passkey not found")

// PasskeyUser adapts a board user to webauthn.User. The user handle is
// the user ID, so a discoverable login resolves straight to the account.
type PasskeyUser struct {
	user        *user.User
	credentials []webauthn.Credential
}

// NewPasskeyUser wraps u with its registered credentials.
func NewPasskeyUser(u *user.User, credentials []webauthn.Credential) *PasskeyUser {
	return &PasskeyUser{user: u, credentials: credentials}
}

// User returns the wrapped user.
func (u *PasskeyUser) User() *user.User { return u.user }

// WebAuthnID returns the user ID.
func (u *PasskeyUser) WebAuthnID() []byte { return []byte(u.user.ID) }

// WebAuthnName returns the username.
func (u *PasskeyUser) WebAuthnName() string { return u.user.Name }

// WebAuthnDisplayName returns the username.
func (u *PasskeyUser) WebAuthnDisplayName() string { return u.user.Name }

// WebAuthnCredentials returns the stored credentials.
func (u *PasskeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// PasskeyStore manages passkey credentials in SQLite.
type PasskeyStore struct {
	db *sql.DB
}

// NewPasskeyStore creates a passkey store.
func NewPasskeyStore(db *sql.DB) *PasskeyStore {
	return &PasskeyStore{db: db}
}

// StoredCredential is a passkey credential with metadata.
type StoredCredential struct {
	ID         string
	UserID     string
	Name       string
	Credential webauthn.Credential
}

// Save stores a new credential for userID.
func (s *PasskeyStore) Save(ctx context.Context, userID, name string, cred *webauthn.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}

	id := fmt.Sprintf("%x", cred.ID)
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO passkey_credentials (id, user_id, name, credential_json) VALUES (?, ?, ?, ?)",
		id, userID, name, string(data),
	); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// ListByUser returns every credential registered by userID, oldest first.
func (s *PasskeyStore) ListByUser(ctx context.Context, userID string) ([]StoredCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, name, credential_json FROM passkey_credentials WHERE user_id = ? ORDER BY rowid",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("closing rows", "err", err)
		}
	}()

	var result []StoredCredential
	for rows.Next() {
		var sc StoredCredential
		var data string
		if err := rows.Scan(&sc.ID, &sc.UserID, &sc.Name, &data); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &sc.Credential); err != nil {
			return nil, fmt.Errorf("unmarshaling credential: %w", err)
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

// WebAuthnCredentials returns just the credentials for userID.
func (s *PasskeyStore) WebAuthnCredentials(ctx context.Context, userID string) ([]webauthn.Credential, error) {
	stored, err := s.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	creds := make([]webauthn.Credential, len(stored))
	for i, sc := range stored {
		creds[i] = sc.Credential
	}
	return creds, nil
}

// Delete removes one of userID's credentials.
func (s *PasskeyStore) Delete(ctx context.Context, id, userID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM passkey_credentials WHERE id = ? AND user_id = ?",
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return ErrPasskeyNotFound
	}
	return nil
}
