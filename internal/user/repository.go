package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evcraddock/incident-board/internal/db"
)

// Repository stores users in SQLite.
type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

// NewRepository creates a user repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user. The unique index on name is the source of
// truth for conflicts, so two concurrent signups cannot both succeed.
func (r *Repository) Create(ctx context.Context, name, passwordHash string) (*User, error) {
	if name == "" {
		return nil, ErrNameRequired
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}

	u := &User{
		ID:           id.String(),
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO users (id, name, password_hash, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Name, u.PasswordHash, u.CreatedAt,
	); err != nil {
		if db.IsConstraintViolation(err) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	return u, nil
}

// GetByName returns the user with the exact given name.
func (r *Repository) GetByName(ctx context.Context, name string) (*User, error) {
	return r.getOne(ctx, "SELECT id, name, password_hash, created_at FROM users WHERE name = ?", name)
}

// GetByID returns the user with the given ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getOne(ctx, "SELECT id, name, password_hash, created_at FROM users WHERE id = ?", id)
}

// List returns all users ordered by name.
func (r *Repository) List(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, password_hash, created_at FROM users ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			fmt.Printf("warning: closing rows: %v\n", cerr)
		}
	}()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, &u)
	}

	return users, rows.Err()
}

func (r *Repository) getOne(ctx context.Context, query string, arg string) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}
