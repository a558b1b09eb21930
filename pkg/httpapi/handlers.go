package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/idsync/pkg/identity"
	"github.com/platinummonkey/idsync/pkg/observability"
	"github.com/platinummonkey/idsync/pkg/reconcile"
	"github.com/platinummonkey/idsync/pkg/session"
)

// SAMLProvider is the SAML flow the handlers drive.
type SAMLProvider interface {
	InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error
	HandleCallback(r *http.Request) (*identity.ExternalIdentity, error)
	Logout(w http.ResponseWriter, r *http.Request, sessionIndex string) error
	Metadata() ([]byte, error)
}

// OIDCProvider is the OIDC flow the handlers drive.
type OIDCProvider interface {
	InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error
	HandleCallback(r *http.Request) (*identity.ExternalIdentity, error)
}

// Reconciler converges local state for a validated login.
type Reconciler interface {
	Reconcile(ctx context.Context, ident *identity.ExternalIdentity) (*reconcile.Result, error)
}

// SessionReader resolves and revokes browser sessions.
type SessionReader interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
}

// Config holds handler settings.
type Config struct {
	// SessionCookie names the cookie carrying the session ID.
	SessionCookie string
	// CookieSecure sets the Secure flag on issued cookies.
	CookieSecure bool
	// PostLoginRedirect is where the browser lands after a successful login.
	PostLoginRedirect string
	// AllowLoginFallback redirects failed SSO logins to the local login page
	// instead of returning an error.
	AllowLoginFallback bool
}

// Handlers wires the authentication endpoints.
type Handlers struct {
	saml       SAMLProvider
	oidc       OIDCProvider
	reconciler Reconciler
	sessions   SessionReader
	cfg        Config
	logger     *observability.Logger
}

// NewHandlers creates the handler set. saml and oidc may individually be nil
// when that provider is not configured.
func NewHandlers(saml SAMLProvider, oidc OIDCProvider, reconciler Reconciler, sessions SessionReader, cfg Config, logger *observability.Logger) *Handlers {
	if cfg.PostLoginRedirect == "" {
		cfg.PostLoginRedirect = "/"
	}
	return &Handlers{
		saml:       saml,
		oidc:       oidc,
		reconciler: reconciler,
		sessions:   sessions,
		cfg:        cfg,
		logger:     logger,
	}
}

// RegisterRoutes attaches all authentication routes to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	if h.saml != nil {
		r.HandleFunc("/auth/saml/login", h.SAMLLogin).Methods(http.MethodGet)
		r.HandleFunc("/auth/saml/acs", h.SAMLCallback).Methods(http.MethodPost)
		r.HandleFunc("/auth/saml/metadata", h.SAMLMetadata).Methods(http.MethodGet)
	}
	if h.oidc != nil {
		r.HandleFunc("/auth/oidc/login", h.OIDCLogin).Methods(http.MethodGet)
		r.HandleFunc("/auth/oidc/callback", h.OIDCCallback).Methods(http.MethodGet)
	}
	r.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
	r.HandleFunc("/auth/whoami", h.WhoAmI).Methods(http.MethodGet)
}

// hasActiveSession reports whether the request carries a session cookie that
// resolves to a live session. Used to short-circuit login initiation for a
// browser that is already authenticated.
func (h *Handlers) hasActiveSession(r *http.Request) bool {
	cookie, err := r.Cookie(h.cfg.SessionCookie)
	if err != nil || cookie.Value == "" {
		return false
	}
	_, err = h.sessions.Get(r.Context(), cookie.Value)
	return err == nil
}

// SAMLLogin starts the SAML flow.
func (h *Handlers) SAMLLogin(w http.ResponseWriter, r *http.Request) {
	if h.hasActiveSession(r) {
		http.Redirect(w, r, h.cfg.PostLoginRedirect, http.StatusFound)
		return
	}

	state := uuid.New().String()
	if err := h.saml.InitiateLogin(w, r, state); err != nil {
		h.logger.WithError(err).Error("failed to initiate SAML login")
		http.Error(w, "failed to initiate login", http.StatusInternalServerError)
	}
}

// SAMLCallback handles the posted assertion.
func (h *Handlers) SAMLCallback(w http.ResponseWriter, r *http.Request) {
	// The RelayState must match what InitiateLogin stashed in the cookie.
	cookie, err := r.Cookie("saml_relay_state")
	if err != nil || cookie.Value == "" || cookie.Value != r.FormValue("RelayState") {
		h.logger.Warn("SAML callback with missing or mismatched relay state")
		http.Error(w, "invalid relay state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:   "saml_relay_state",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	ident, err := h.saml.HandleCallback(r)
	if err != nil {
		h.logger.WithError(err).Warn("SAML assertion validation failed")
		http.Error(w, "assertion validation failed", http.StatusUnauthorized)
		return
	}

	h.completeLogin(w, r, ident)
}

// SAMLMetadata serves the service provider metadata document.
func (h *Handlers) SAMLMetadata(w http.ResponseWriter, r *http.Request) {
	metadata, err := h.saml.Metadata()
	if err != nil {
		h.logger.WithError(err).Error("failed to generate metadata")
		http.Error(w, "failed to generate metadata", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(metadata)
}

// OIDCLogin starts the OIDC flow.
func (h *Handlers) OIDCLogin(w http.ResponseWriter, r *http.Request) {
	if h.hasActiveSession(r) {
		http.Redirect(w, r, h.cfg.PostLoginRedirect, http.StatusFound)
		return
	}

	state := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     "oidc_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	if err := h.oidc.InitiateLogin(w, r, state); err != nil {
		h.logger.WithError(err).Error("failed to initiate OIDC login")
		http.Error(w, "failed to initiate login", http.StatusInternalServerError)
	}
}

// OIDCCallback handles the authorization code redirect.
func (h *Handlers) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("oidc_state")
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		h.logger.Warn("OIDC callback with missing or mismatched state")
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:   "oidc_state",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	ident, err := h.oidc.HandleCallback(r)
	if err != nil {
		h.logger.WithError(err).Warn("OIDC token validation failed")
		http.Error(w, "token validation failed", http.StatusUnauthorized)
		return
	}

	h.completeLogin(w, r, ident)
}

// completeLogin reconciles the identity and issues the session cookie.
func (h *Handlers) completeLogin(w http.ResponseWriter, r *http.Request, ident *identity.ExternalIdentity) {
	ctx := observability.WithNameID(r.Context(), ident.NameID)

	result, err := h.reconciler.Reconcile(ctx, ident)
	if err != nil {
		h.loginError(w, r, ident, err)
		return
	}

	if result.SessionID != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.cfg.SessionCookie,
			Value:    result.SessionID,
			Path:     "/",
			HttpOnly: true,
			Secure:   h.cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	http.Redirect(w, r, h.cfg.PostLoginRedirect, http.StatusFound)
}

func (h *Handlers) loginError(w http.ResponseWriter, r *http.Request, ident *identity.ExternalIdentity, err error) {
	logger := h.logger.WithField("name_id", ident.NameID).WithError(err)

	if h.cfg.AllowLoginFallback {
		logger.Warn("reconciliation failed, falling back to local login")
		http.Redirect(w, r, "/login?sso_failed=1", http.StatusFound)
		return
	}

	switch {
	case identity.IsAmbiguousIdentity(err):
		logger.Error("external identity matches multiple accounts")
		http.Error(w, "identity matches multiple accounts", http.StatusConflict)
	case identity.IsUsernameGeneration(err):
		logger.Error("could not derive a username from the assertion")
		http.Error(w, "could not derive a username", http.StatusUnprocessableEntity)
	case identity.IsAccountCreation(err):
		logger.Error("account creation refused by the store")
		http.Error(w, "account creation failed", http.StatusInternalServerError)
	default:
		logger.Error("reconciliation failed")
		http.Error(w, "login failed", http.StatusInternalServerError)
	}
}

// Logout revokes the session and, for SAML, redirects through single logout.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(h.cfg.SessionCookie)
	if err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			h.logger.WithError(err).Warn("failed to delete session")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:   h.cfg.SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if h.saml != nil {
		if err := h.saml.Logout(w, r, ""); err != nil {
			h.logger.WithError(err).Warn("single logout failed")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// WhoAmI resolves the session cookie to the logged-in account. This is the
// fast path: a valid session never touches the record store.
func (h *Handlers) WhoAmI(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(h.cfg.SessionCookie)
	if err != nil || cookie.Value == "" {
		http.Error(w, "not logged in", http.StatusUnauthorized)
		return
	}

	sess, err := h.sessions.Get(r.Context(), cookie.Value)
	if err == session.ErrNotFound {
		http.Error(w, "session expired", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to load session")
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"account":    sess.Account.String(),
		"name_id":    sess.NameID,
		"expires_at": sess.ExpiresAt,
	})
}
