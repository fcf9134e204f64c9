package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evcraddock/incident-board/internal/user"
)

func TestSignupAndLogin(t *testing.T) {
	m, _ := testManager(t, Options{})
	alice := mustSignup(t, m, "alice", "pw-1")

	if alice.PasswordHash == "pw-1" {
		t.Fatal("password stored in plaintext")
	}

	c := sessionCookie(t, m, "alice", "pw-1")
	if !c.HttpOnly {
		t.Error("expected HttpOnly cookie")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("samesite = %v, want Lax", c.SameSite)
	}
	if !c.Expires.IsZero() {
		t.Errorf("expires = %v, want browser-session cookie", c.Expires)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(c)
	got := m.Resolve(r)
	if got == nil {
		t.Fatal("expected resolved user")
	}
	if got.ID != alice.ID {
		t.Errorf("resolved %q, want %q", got.ID, alice.ID)
	}
}

func TestSignupDuplicateName(t *testing.T) {
	m, _ := testManager(t, Options{})
	mustSignup(t, m, "alice", "pw-1")

	if _, err := m.Signup(context.Background(), "alice", "pw-2"); !errors.Is(err, user.ErrNameTaken) {
		t.Errorf("err = %v, want ErrNameTaken", err)
	}
}

func TestSignupValidation(t *testing.T) {
	m, _ := testManager(t, Options{})

	if _, err := m.Signup(context.Background(), "", "pw"); !errors.Is(err, user.ErrNameRequired) {
		t.Errorf("empty name: err = %v, want ErrNameRequired", err)
	}
	if _, err := m.Signup(context.Background(), " \t ", "pw"); !errors.Is(err, user.ErrNameRequired) {
		t.Errorf("blank name: err = %v, want ErrNameRequired", err)
	}
	if _, err := m.Signup(context.Background(), "bob", ""); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("empty password: err = %v, want ErrPasswordRequired", err)
	}
}

func TestSignupKeepsNameVerbatim(t *testing.T) {
	m, _ := testManager(t, Options{})
	padded := mustSignup(t, m, " alice ", "pw-1")
	if padded.Name != " alice " {
		t.Errorf("stored name = %q, want %q", padded.Name, " alice ")
	}

	// The unpadded name is a different user.
	mustSignup(t, m, "alice", "pw-2")

	sessionCookie(t, m, " alice ", "pw-1")
	if _, err := m.Verify(context.Background(), " alice ", "pw-2"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("err = %v, want ErrWrongPassword", err)
	}
}

func TestLoginReplacesSession(t *testing.T) {
	m, _ := testManager(t, Options{})
	mustSignup(t, m, "alice", "pw-1")
	first := sessionCookie(t, m, "alice", "pw-1")

	r := httptest.NewRequest("POST", "/login", nil)
	r.AddCookie(first)
	w := httptest.NewRecorder()
	if _, err := m.Login(context.Background(), w, r, "alice", "pw-1"); err != nil {
		t.Fatalf("second login: %v", err)
	}

	var second *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			second = c
		}
	}
	if second == nil || second.Value == first.Value {
		t.Fatalf("expected a fresh session cookie, got %v", second)
	}

	old := httptest.NewRequest("GET", "/", nil)
	old.AddCookie(first)
	if u := m.Resolve(old); u != nil {
		t.Error("replaced session still resolves")
	}

	cur := httptest.NewRequest("GET", "/", nil)
	cur.AddCookie(second)
	if u := m.Resolve(cur); u == nil {
		t.Error("new session does not resolve")
	}
}

func TestLoginFailures(t *testing.T) {
	m, _ := testManager(t, Options{})
	mustSignup(t, m, "alice", "pw-1")

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"unknown user", "bob", "pw-1", ErrUnknownUser},
		{"wrong password", "alice", "nope", ErrWrongPassword},
		{"case sensitive name", "Alice", "pw-1", ErrUnknownUser},
		{"empty password", "alice", "", ErrWrongPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			_, err := m.Login(context.Background(), w, httptest.NewRequest("POST", "/login", nil), tt.username, tt.password)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("err = %v, want ErrInvalidCredentials family", err)
			}
			if len(w.Result().Cookies()) != 0 {
				t.Error("expected no cookie on failed login")
			}
		})
	}
}

func TestResolveAnonymous(t *testing.T) {
	m, _ := testManager(t, Options{})

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no cookie", nil},
		{"empty cookie", &http.Cookie{Name: cookieName, Value: ""}},
		{"unknown token", &http.Cookie{Name: cookieName, Value: "bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.cookie != nil {
				r.AddCookie(tt.cookie)
			}
			if u := m.Resolve(r); u != nil {
				t.Errorf("resolved %q, want anonymous", u.Name)
			}
		})
	}
}

func TestResolveDeletedUser(t *testing.T) {
	m, _ := testManager(t, Options{})
	ctx := context.Background()

	w := httptest.NewRecorder()
	if err := m.LoginUser(ctx, w, httptest.NewRequest("POST", "/login", nil), &user.User{ID: "ghost", Name: "ghost"}); err != nil {
		t.Fatalf("login user: %v", err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	for _, c := range w.Result().Cookies() {
		r.AddCookie(c)
	}
	if u := m.Resolve(r); u != nil {
		t.Errorf("resolved %q, want anonymous", u.Name)
	}
}

func TestLogout(t *testing.T) {
	m, _ := testManager(t, Options{})
	mustSignup(t, m, "alice", "pw-1")
	c := sessionCookie(t, m, "alice", "pw-1")

	r := httptest.NewRequest("GET", "/logout", nil)
	r.AddCookie(c)
	w := httptest.NewRecorder()
	if err := m.Logout(context.Background(), w, r); err != nil {
		t.Fatalf("logout: %v", err)
	}

	var cleared bool
	for _, rc := range w.Result().Cookies() {
		if rc.Name == cookieName && rc.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected session cookie to be cleared")
	}

	// The old token no longer resolves.
	r2 := httptest.NewRequest("GET", "/", nil)
	r2.AddCookie(c)
	if u := m.Resolve(r2); u != nil {
		t.Error("expected anonymous after logout")
	}

	// Logging out again is harmless.
	if err := m.Logout(context.Background(), httptest.NewRecorder(), r); err != nil {
		t.Errorf("second logout: %v", err)
	}
}

func TestLogoutAnonymous(t *testing.T) {
	m, _ := testManager(t, Options{})

	r := httptest.NewRequest("GET", "/logout", nil)
	if err := m.Logout(context.Background(), httptest.NewRecorder(), r); err != nil {
		t.Errorf("logout: %v", err)
	}
}

func TestSessionTTL(t *testing.T) {
	m, _ := testManager(t, Options{SessionTTL: time.Hour, SecureCookies: true})
	mustSignup(t, m, "alice", "pw-1")
	c := sessionCookie(t, m, "alice", "pw-1")

	if c.Expires.IsZero() {
		t.Error("expected cookie expiry with a TTL")
	}
	if !c.Secure {
		t.Error("expected Secure cookie")
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	m, _ := testManager(t, Options{})
	alice := mustSignup(t, m, "alice", "pw-a")
	bob := mustSignup(t, m, "bob", "pw-b")

	ca := sessionCookie(t, m, "alice", "pw-a")
	cb := sessionCookie(t, m, "bob", "pw-b")
	if ca.Value == cb.Value {
		t.Fatal("expected distinct tokens")
	}

	for _, tc := range []struct {
		cookie *http.Cookie
		want   string
	}{{ca, alice.ID}, {cb, bob.ID}} {
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(tc.cookie)
		u := m.Resolve(r)
		if u == nil || u.ID != tc.want {
			t.Errorf("resolved %v, want %q", u, tc.want)
		}
	}
}

func TestVerifyStoreError(t *testing.T) {
	d := testDB(t)
	hasher, err := NewHasher(0)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	m := NewManager(user.NewRepository(d), NewSessionStore(d), hasher, Options{})
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err = m.Verify(context.Background(), "alice", "pw")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, store failures must not look like bad credentials", err)
	}
}
