// Package web provides the HTTP server and handlers for the incident board.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/evcraddock/incident-board/internal/auth"
	"github.com/evcraddock/incident-board/internal/post"
	"github.com/evcraddock/incident-board/internal/user"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Config holds the server's collaborators.
type Config struct {
	Manager *auth.Manager
	Users   user.Store
	Posts   post.Store
	// Limiter throttles failed logins. Nil uses the default budget.
	Limiter *auth.LoginLimiter
	// Passkeys enables WebAuthn login when non-nil. BaseURL must then be
	// the public origin, e.g. https://board.example.com.
	Passkeys      *auth.PasskeyStore
	BaseURL       string
	SecureCookies bool
}

// Server is the board's HTTP handler.
type Server struct {
	manager   *auth.Manager
	users     user.Store
	posts     post.Store
	limiter   *auth.LoginLimiter
	passkeys  *passkeyHandlers
	secure    bool
	templates *template.Template
	router    *mux.Router
}

// NewServer creates a web server and registers its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil || cfg.Users == nil || cfg.Posts == nil {
		return nil, fmt.Errorf("web: manager, users and posts are required")
	}

	funcMap := template.FuncMap{
		"formatTime": tmplFormatTime,
		"plural":     tmplPlural,
	}

	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = auth.NewLoginLimiter(0)
	}

	s := &Server{
		manager:   cfg.Manager,
		users:     cfg.Users,
		posts:     cfg.Posts,
		limiter:   limiter,
		secure:    cfg.SecureCookies,
		templates: tmpl,
		router:    mux.NewRouter(),
	}

	if cfg.Passkeys != nil {
		ph, err := newPasskeyHandlers(cfg.BaseURL, cfg.Passkeys, cfg.Users, cfg.Manager, cfg.SecureCookies)
		if err != nil {
			return nil, fmt.Errorf("configuring passkeys: %w", err)
		}
		s.passkeys = ph
	}

	if err := s.routes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) routes() error {
	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		return fmt.Errorf("creating static sub-fs: %w", err)
	}

	r := s.router
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(staticContent))))
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/login", s.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLoginSubmit).Methods(http.MethodPost)
	r.HandleFunc("/signup", s.handleSignupPage).Methods(http.MethodGet)
	r.HandleFunc("/signup", s.handleSignupSubmit).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodGet)

	private := func(path string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, auth.RequireAuth(s.manager, h)).Methods(methods...)
	}
	private("/", s.handleHome, http.MethodGet)
	private("/add-post", s.handleAddPostPage, http.MethodGet)
	private("/add-post", s.handleAddPostSubmit, http.MethodPost)
	private("/like/{postId}", s.handleLike, http.MethodPost)
	private("/comment/{postId}", s.handleComment, http.MethodPost)
	private("/delete-post/{postId}", s.handleDeletePost, http.MethodPost)
	private("/profile", s.handleProfile, http.MethodGet)

	if s.passkeys != nil {
		private("/passkey/register/begin", s.passkeys.handleBeginRegistration, http.MethodPost)
		private("/passkey/register/finish", s.passkeys.handleFinishRegistration, http.MethodPost)
		private("/passkey/delete/{id}", s.passkeys.handleDelete, http.MethodPost)
		r.HandleFunc("/passkey/login/begin", s.passkeys.handleBeginLogin).Methods(http.MethodPost)
		r.HandleFunc("/passkey/login/finish", s.passkeys.handleFinishLogin).Methods(http.MethodPost)
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// render executes the named page template with status 200.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	s.renderStatus(w, http.StatusOK, name, data)
}

// renderStatus executes the named page template. Output is buffered so a
// template error still yields a clean 500.
func (s *Server) renderStatus(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("rendering template", "template", name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Debug("writing response", "err", err)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Template helper functions

func tmplFormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("Jan 2, 2006 15:04")
}

func tmplPlural(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
