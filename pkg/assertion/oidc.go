package assertion

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/idsync/pkg/identity"
)

// OIDCConfig holds identity-provider settings for the OpenID Connect flow.
type OIDCConfig struct {
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	// GroupsClaim names the ID token claim carrying group memberships.
	GroupsClaim string `yaml:"groups_claim"`
	// SkipIssuerCheck disables issuer validation for providers with broken
	// discovery documents.
	SkipIssuerCheck bool `yaml:"skip_issuer_check"`
}

// OIDCProvider validates OIDC ID tokens from a single identity provider.
type OIDCProvider struct {
	cfg          *OIDCConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer and creates an OIDC provider.
func NewOIDCProvider(ctx context.Context, cfg *OIDCConfig) (*OIDCProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("OIDC config is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: cfg.SkipIssuerCheck,
	})

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	}

	return &OIDCProvider{
		cfg:          cfg,
		provider:     provider,
		verifier:     verifier,
		oauth2Config: oauth2Config,
	}, nil
}

// InitiateLogin redirects to the authorization endpoint.
func (p *OIDCProvider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	authURL := p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// HandleCallback exchanges the authorization code, verifies the ID token, and
// extracts the external identity.
func (p *OIDCProvider) HandleCallback(r *http.Request) (*identity.ExternalIdentity, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	ctx := r.Context()
	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	ident := identityFromClaims(claims, p.cfg.GroupsClaim)
	if ident.NameID == "" {
		ident.NameID = idToken.Subject
	}
	if ident.NameID == "" {
		return nil, fmt.Errorf("missing subject in OIDC token")
	}
	return ident, nil
}

// identityFromClaims converts ID token claims into an external identity. The
// "sub" claim becomes the name identifier; string and string-array claims
// become attributes.
func identityFromClaims(claims map[string]interface{}, groupsClaim string) *identity.ExternalIdentity {
	ident := &identity.ExternalIdentity{
		Attributes: make(map[string][]string),
	}

	for name, value := range claims {
		switch v := value.(type) {
		case string:
			ident.Attributes[name] = []string{v}
		case []interface{}:
			var values []string
			for _, item := range v {
				if s, ok := item.(string); ok {
					values = append(values, s)
				}
			}
			if len(values) > 0 {
				ident.Attributes[name] = values
			}
		}
	}

	if sub, ok := claims["sub"].(string); ok {
		ident.NameID = sub
	}
	if groupsClaim != "" {
		ident.Groups = append(ident.Groups, ident.Attributes[groupsClaim]...)
	}

	return ident
}

// Logout is a no-op; RP-initiated logout is not implemented.
func (p *OIDCProvider) Logout(w http.ResponseWriter, r *http.Request, sessionIndex string) error {
	return nil
}

// ValidateConfig checks the OIDC configuration for completeness.
func (p *OIDCProvider) ValidateConfig() error {
	cfg := p.cfg

	if cfg.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if cfg.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if cfg.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if cfg.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	if len(cfg.Scopes) == 0 {
		return fmt.Errorf("scopes are required")
	}

	hasOpenID := false
	for _, scope := range cfg.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("'openid' scope is required for OIDC")
	}

	return nil
}
