package web

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/evcraddock/incident-board/internal/auth"
	"github.com/evcraddock/incident-board/internal/user"
)

const flashCookie = "ib_flash"

type loginData struct {
	Error       string
	HasPasskeys bool
}

type signupData struct {
	Error string
}

// handleLoginPage renders the login form with any pending flash message.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, "login.html", loginData{
		Error:       s.takeFlash(w, r),
		HasPasskeys: s.passkeys != nil,
	})
}

// handleLoginSubmit verifies the username and password. Failures redirect
// back to the login page with the reason as a flash message.
func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	ip := auth.ClientIP(r)
	if s.limiter.Blocked(ip) {
		slog.Warn("login throttled", "ip", ip)
		http.Error(w, "Too many login attempts, try again later", http.StatusTooManyRequests)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	name := r.FormValue("username")

	u, err := s.manager.Login(r.Context(), w, r, name, r.FormValue("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.limiter.Fail(ip)
		slog.Info("login failed", "username", name, "ip", ip)

		msg := "Incorrect password."
		if errors.Is(err, auth.ErrUnknownUser) {
			msg = "Incorrect username."
		}
		s.setFlash(w, msg)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if err != nil {
		slog.Error("logging in", "username", name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.limiter.Reset(ip)
	slog.Info("login success", "username", u.Name, "method", "password")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, "signup.html", signupData{})
}

// handleSignupSubmit registers a new user and sends them to log in.
func (s *Server) handleSignupSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	// The name is kept verbatim; login compares it unmodified.
	name := r.FormValue("username")
	password := r.FormValue("password")

	if strings.TrimSpace(name) == "" || password == "" {
		s.renderStatus(w, http.StatusBadRequest, "signup.html", signupData{Error: "Username and password are required"})
		return
	}

	u, err := s.manager.Signup(r.Context(), name, password)
	switch {
	case errors.Is(err, user.ErrNameTaken):
		http.Error(w, "Username already exists", http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("signing up user", "username", name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	slog.Info("user signed up", "username", u.Name)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// handleLogout destroys the session before redirecting to login.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Logout(r.Context(), w, r); err != nil {
		slog.Error("destroying session", "err", err)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) setFlash(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/login",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash returns and clears the pending flash message, if any.
func (s *Server) takeFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    "",
		Path:     "/login",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return msg
}
