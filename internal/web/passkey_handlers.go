package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/evcraddock/incident-board/internal/auth"
	"github.com/evcraddock/incident-board/internal/user"
)

const (
	ceremonyCookie = "ib_ceremony"
	ceremonyTTL    = 5 * time.Minute
)

// ceremony is an in-flight WebAuthn registration or login.
type ceremony struct {
	session *webauthn.SessionData
	// userID is the registering user; empty for logins.
	userID  string
	expires time.Time
}

// passkeyHandlers holds WebAuthn-related HTTP handlers.
type passkeyHandlers struct {
	wan     *webauthn.WebAuthn
	store   *auth.PasskeyStore
	users   user.Store
	manager *auth.Manager
	secure  bool
	now     func() time.Time

	// In-flight ceremonies keyed by the ceremony cookie value, so
	// concurrent logins from different browsers do not collide.
	mu         sync.Mutex
	ceremonies map[string]ceremony
}

func newPasskeyHandlers(baseURL string, store *auth.PasskeyStore, users user.Store, manager *auth.Manager, secure bool) (*passkeyHandlers, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if parsed.Hostname() == "" {
		return nil, errors.New("base url has no host")
	}

	wan, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Incident Board",
		RPID:          parsed.Hostname(),
		RPOrigins:     []string{strings.TrimSuffix(baseURL, "/")},
	})
	if err != nil {
		return nil, err
	}

	return &passkeyHandlers{
		wan:        wan,
		store:      store,
		users:      users,
		manager:    manager,
		secure:     secure,
		now:        time.Now,
		ceremonies: make(map[string]ceremony),
	}, nil
}

// handleBeginRegistration starts passkey registration for the current user.
func (h *passkeyHandlers) handleBeginRegistration(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	creds, err := h.store.WebAuthnCredentials(r.Context(), u.ID)
	if err != nil {
		slog.Error("loading credentials", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	// Exclude existing credentials so the same key is not registered twice.
	excludeList := make([]protocol.CredentialDescriptor, len(creds))
	for i, c := range creds {
		excludeList[i] = c.Descriptor()
	}

	creation, session, err := h.wan.BeginRegistration(auth.NewPasskeyUser(u, creds),
		webauthn.WithExclusions(excludeList),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	)
	if err != nil {
		slog.Error("beginning registration", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	h.start(w, ceremony{session: session, userID: u.ID})
	writeJSON(w, creation)
}

// handleFinishRegistration completes passkey registration.
func (h *passkeyHandlers) handleFinishRegistration(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	c, ok := h.take(w, r)
	if !ok || c.userID != u.ID {
		http.Error(w, "No registration in progress", http.StatusBadRequest)
		return
	}

	creds, err := h.store.WebAuthnCredentials(r.Context(), u.ID)
	if err != nil {
		slog.Error("loading credentials", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	credential, err := h.wan.FinishRegistration(auth.NewPasskeyUser(u, creds), *c.session, r)
	if err != nil {
		slog.Warn("finishing registration", "user", u.Name, "err", err)
		http.Error(w, "Registration failed", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "Passkey"
	}

	if err := h.store.Save(r.Context(), u.ID, name, credential); err != nil {
		slog.Error("saving credential", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("passkey registered", "user", u.Name, "name", name)
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleBeginLogin starts a discoverable passkey login.
func (h *passkeyHandlers) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	assertion, session, err := h.wan.BeginDiscoverableLogin()
	if err != nil {
		slog.Error("beginning passkey login", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	h.start(w, ceremony{session: session})
	writeJSON(w, assertion)
}

// handleFinishLogin completes passkey login and creates a session.
func (h *passkeyHandlers) handleFinishLogin(w http.ResponseWriter, r *http.Request) {
	c, ok := h.take(w, r)
	if !ok || c.userID != "" {
		http.Error(w, "No login in progress", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// The user handle is the user ID set at registration.
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		u, err := h.users.GetByID(ctx, string(userHandle))
		if err != nil {
			return nil, protocol.ErrBadRequest.WithDetails("unknown user")
		}
		creds, err := h.store.WebAuthnCredentials(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		return auth.NewPasskeyUser(u, creds), nil
	}

	wu, _, err := h.wan.FinishPasskeyLogin(handler, *c.session, r)
	if err != nil {
		slog.Warn("finishing passkey login", "err", err)
		http.Error(w, "Login failed", http.StatusUnauthorized)
		return
	}

	pu, ok := wu.(*auth.PasskeyUser)
	if !ok {
		slog.Error("unexpected passkey user type")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	if err := h.manager.LoginUser(ctx, w, r, pu.User()); err != nil {
		slog.Error("creating session", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("login success", "username", pu.User().Name, "method", "passkey")
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleDelete removes one of the current user's passkeys.
func (h *passkeyHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := mux.Vars(r)["id"]

	err := h.store.Delete(r.Context(), id, u.ID)
	if errors.Is(err, auth.ErrPasskeyNotFound) {
		http.Error(w, "Passkey not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("deleting passkey", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/profile", http.StatusSeeOther)
}

// start stores c under a fresh ceremony cookie, dropping expired entries.
func (h *passkeyHandlers) start(w http.ResponseWriter, c ceremony) {
	id := uuid.NewString()
	now := h.now()
	c.expires = now.Add(ceremonyTTL)

	h.mu.Lock()
	for k, v := range h.ceremonies {
		if now.After(v.expires) {
			delete(h.ceremonies, k)
		}
	}
	h.ceremonies[id] = c
	h.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     ceremonyCookie,
		Value:    id,
		Path:     "/passkey/",
		MaxAge:   int(ceremonyTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// take removes and returns the request's ceremony. Each ceremony can be
// finished at most once.
func (h *passkeyHandlers) take(w http.ResponseWriter, r *http.Request) (ceremony, bool) {
	cookie, err := r.Cookie(ceremonyCookie)
	if err != nil {
		return ceremony{}, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ceremonyCookie,
		Value:    "",
		Path:     "/passkey/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})

	h.mu.Lock()
	c, ok := h.ceremonies[cookie.Value]
	delete(h.ceremonies, cookie.Value)
	h.mu.Unlock()

	if !ok || h.now().After(c.expires) {
		return ceremony{}, false
	}
	return c, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "err", err)
	}
}
