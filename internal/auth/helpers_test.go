package auth

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/evcraddock/incident-board/internal/db"
	"github.com/evcraddock/incident-board/internal/user"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return d
}

func testSessionStore(t *testing.T) *SessionStore {
	t.Helper()
	return NewSessionStore(testDB(t))
}

// testManager returns a manager over a fresh SQLite database, using the
// minimum bcrypt cost to keep tests fast.
func testManager(t *testing.T, opts Options) (*Manager, *user.Repository) {
	t.Helper()
	d := testDB(t)
	users := user.NewRepository(d)
	hasher, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	return NewManager(users, NewSessionStore(d), hasher, opts), users
}

func mustSignup(t *testing.T, m *Manager, name, password string) *user.User {
	t.Helper()
	u, err := m.Signup(context.Background(), name, password)
	if err != nil {
		t.Fatalf("signup %s: %v", name, err)
	}
	return u
}

// sessionCookie logs name in and returns the issued cookie.
func sessionCookie(t *testing.T, m *Manager, name, password string) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	if _, err := m.Login(context.Background(), w, httptest.NewRequest("POST", "/login", nil), name, password); err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatalf("expected cookie named %q", cookieName)
	return nil
}
