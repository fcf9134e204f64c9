package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 10

// ErrPasswordRequired is returned when hashing an empty password.
var ErrPasswordRequired = errors.New("password is required")

// Hasher hashes and verifies passwords with bcrypt. Each hash embeds its
// own random salt and cost, so Verify needs nothing but the hash string.
type Hasher struct {
	cost int
}

// NewHasher creates a Hasher. A cost of zero selects DefaultBcryptCost.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns a bcrypt hash of plain.
func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrPasswordRequired
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether plain matches hash.
func (h *Hasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
