// Package user provides the user identity model and credential storage.
package user

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user matches a lookup.
	ErrNotFound = errors.New("user not found")
	// ErrNameTaken is returned when creating a user whose name already exists.
	ErrNameTaken = errors.New("username already exists")
	// ErrNameRequired is returned when creating a user with an empty name.
	ErrNameRequired = errors.New("username is required")
)

// User is a registered account. Names are unique and case-sensitive.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the credential store. Users are never updated or deleted.
type Store interface {
	Create(ctx context.Context, name, passwordHash string) (*User, error)
	GetByName(ctx context.Context, name string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	List(ctx context.Context) ([]*User, error)
}
