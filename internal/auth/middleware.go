package auth

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/evcraddock/incident-board/internal/user"
)

type contextKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFromContext returns the authenticated user stored by RequireAuth,
// or nil.
func UserFromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(contextKey{}).(*user.User)
	return u
}

// RequireAuth is middleware that redirects anonymous requests to the login
// page. Authenticated requests reach next with the user in the context.
func RequireAuth(m *Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := m.Resolve(r)
		if u == nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// DefaultMaxLoginFailures is the per-IP failure budget per window.
const DefaultMaxLoginFailures = 10

const loginWindow = time.Minute

// LoginLimiter tracks failed logins per client IP over a sliding window.
type LoginLimiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	now      func() time.Time
	attempts map[string][]time.Time
	swept    time.Time
}

// NewLoginLimiter creates a limiter allowing maxFailures failures per minute.
// A value of zero selects DefaultMaxLoginFailures.
func NewLoginLimiter(maxFailures int) *LoginLimiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxLoginFailures
	}
	return &LoginLimiter{
		max:      maxFailures,
		window:   loginWindow,
		now:      time.Now,
		attempts: make(map[string][]time.Time),
	}
}

// Blocked reports whether ip has used up its failure budget.
func (l *LoginLimiter) Blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(ip)) >= l.max
}

// Fail records a failed attempt from ip. At most once per window it also
// drops IPs whose failures have all expired.
func (l *LoginLimiter) Fail(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.swept) >= l.window {
		for other := range l.attempts {
			l.prune(other)
		}
		l.swept = now
	}
	l.attempts[ip] = append(l.prune(ip), now)
}

// Reset forgets ip's failures.
func (l *LoginLimiter) Reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, ip)
}

// prune drops entries older than the window. Caller holds l.mu.
func (l *LoginLimiter) prune(ip string) []time.Time {
	cutoff := l.now().Add(-l.window)
	valid := l.attempts[ip][:0]
	for _, t := range l.attempts[ip] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(l.attempts, ip)
		return nil
	}
	l.attempts[ip] = valid
	return valid
}

// ClientIP returns the request's remote address without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
