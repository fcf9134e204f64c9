package cli

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/evcraddock/incident-board/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = isolate(t)
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

func startApp(t *testing.T, cfg config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.close)
	return a
}

func serve(a *app, method, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var r *http.Request
	if form != nil {
		r = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, r)
	return w
}

// login signs up name and returns its session cookie.
func login(t *testing.T, a *app, name string) *http.Cookie {
	t.Helper()
	creds := url.Values{"username": {name}, "password": {"pw"}}
	if w := serve(a, "POST", "/signup", creds); w.Code != http.StatusSeeOther {
		t.Fatalf("signup: status = %d", w.Code)
	}
	w := serve(a, "POST", "/login", creds)
	for _, c := range w.Result().Cookies() {
		if c.Name == "ib_session" {
			return c
		}
	}
	t.Fatalf("login: no session cookie (status %d)", w.Code)
	return nil
}

func TestAppSQLite(t *testing.T) {
	a := startApp(t, testConfig(t))

	if w := serve(a, "GET", "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}

	c := login(t, a, "alice")
	w := serve(a, "POST", "/add-post", url.Values{"incident": {"fire"}, "problem": {"smoke"}}, c)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("add post status = %d", w.Code)
	}
	w = serve(a, "GET", "/", nil, c)
	if !strings.Contains(w.Body.String(), "fire") {
		t.Error("expected new post on home page")
	}

	// Passkeys are off without a base URL.
	if w := serve(a, "POST", "/passkey/login/begin", nil); w.Code != http.StatusNotFound {
		t.Errorf("passkey route status = %d, want 404", w.Code)
	}
}

func TestAppPasskeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.BaseURL = "http://localhost:3000"
	a := startApp(t, cfg)

	if w := serve(a, "POST", "/passkey/login/begin", nil); w.Code != http.StatusOK {
		t.Errorf("passkey begin status = %d, want 200", w.Code)
	}
}

func TestAppRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.SessionStore = config.StoreRedis
	cfg.RedisURL = "redis://" + mr.Addr()
	a := startApp(t, cfg)

	c := login(t, a, "alice")
	if !mr.Exists("ib:session:" + c.Value) {
		t.Error("expected session in redis")
	}
	if w := serve(a, "GET", "/profile", nil, c); w.Code != http.StatusOK {
		t.Errorf("profile status = %d, want 200", w.Code)
	}

	serve(a, "GET", "/logout", nil, c)
	if mr.Exists("ib:session:" + c.Value) {
		t.Error("session still in redis after logout")
	}
}

func TestAppRedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionStore = config.StoreRedis
	cfg.RedisURL = "redis://127.0.0.1:1"

	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Error("expected error for unreachable redis")
	}
}

func TestRunServePortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	cfg := testConfig(t)
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	err = runServe(cfg)
	if err == nil || !strings.Contains(err.Error(), "listening on") {
		t.Errorf("err = %v, want listen failure", err)
	}
}

func TestServeRejectsBadPort(t *testing.T) {
	dbPath := isolate(t)
	if _, err := executeCommand("--db", dbPath, "serve", "--port", "70000"); err == nil {
		t.Error("expected error for out of range port")
	}
}
