package assertion

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/platinummonkey/idsync/pkg/identity"
)

// SAMLConfig holds identity-provider settings for the SAML 2.0 flow.
type SAMLConfig struct {
	// EntityID is the identity provider's issuer.
	EntityID string `yaml:"entity_id"`
	// SSOURL is the identity provider's single sign-on endpoint.
	SSOURL string `yaml:"sso_url"`
	// SLOURL is the optional single logout endpoint.
	SLOURL string `yaml:"slo_url"`
	// Certificate is the identity provider's signing certificate, PEM encoded.
	Certificate string `yaml:"certificate"`
	// PrivateKey is the service provider's signing key, PEM encoded. Optional;
	// required only when SignRequests is set.
	PrivateKey string `yaml:"private_key"`
	// NameIDFormat overrides the requested NameID format.
	NameIDFormat string `yaml:"name_id_format"`
	// SignRequests enables AuthnRequest signing.
	SignRequests bool `yaml:"sign_requests"`
	// GroupsAttribute names the assertion attribute carrying group
	// memberships. Each value may itself be a comma-separated list.
	GroupsAttribute string `yaml:"groups_attribute"`
}

// SAMLProvider validates SAML 2.0 assertions from a single identity provider.
type SAMLProvider struct {
	cfg     *SAMLConfig
	sp      *saml2.SAMLServiceProvider
	baseURL string
}

// NewSAMLProvider creates a SAML service provider from the given config.
func NewSAMLProvider(cfg *SAMLConfig, baseURL string) (*SAMLProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("SAML config is required")
	}

	certBlock, _ := pem.Decode([]byte(cfg.Certificate))
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	certStore := dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}

	var keyStore dsig.X509KeyStore
	if cfg.PrivateKey != "" {
		keyBlock, _ := pem.Decode([]byte(cfg.PrivateKey))
		if keyBlock == nil {
			return nil, fmt.Errorf("failed to decode private key PEM")
		}
		privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
		if err != nil {
			// Try PKCS8 format
			pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse private key: %w", err)
			}
			var ok bool
			privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("private key is not RSA")
			}
		}
		keyStore = &dsig.TLSCertKeyStore{
			PrivateKey:  privateKey,
			Certificate: [][]byte{[]byte(cfg.Certificate)},
		}
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.SSOURL,
		IdentityProviderIssuer:      cfg.EntityID,
		ServiceProviderIssuer:       baseURL + "/auth/saml/metadata",
		AssertionConsumerServiceURL: baseURL + "/auth/saml/acs",
		SignAuthnRequests:           cfg.SignRequests,
		AudienceURI:                 baseURL,
		IDPCertificateStore:         &certStore,
		SPKeyStore:                  keyStore,
	}
	if cfg.NameIDFormat != "" {
		sp.NameIdFormat = cfg.NameIDFormat
	}

	return &SAMLProvider{cfg: cfg, sp: sp, baseURL: baseURL}, nil
}

// InitiateLogin redirects the browser to the identity provider, carrying
// state through the RelayState parameter and a short-lived cookie.
func (p *SAMLProvider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	authURL, err := p.sp.BuildAuthURL(state)
	if err != nil {
		return fmt.Errorf("failed to build auth URL: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "saml_relay_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})

	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// HandleCallback validates the posted SAMLResponse and extracts the external
// identity.
func (p *SAMLProvider) HandleCallback(r *http.Request) (*identity.ExternalIdentity, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}

	samlResponse := r.FormValue("SAMLResponse")
	if samlResponse == "" {
		return nil, fmt.Errorf("missing SAMLResponse parameter")
	}

	// RetrieveAssertionInfo expects the base64-encoded response as posted.
	assertionInfo, err := p.sp.RetrieveAssertionInfo(samlResponse)
	if err != nil {
		return nil, fmt.Errorf("failed to validate assertion: %w", err)
	}

	if assertionInfo.WarningInfo != nil {
		if assertionInfo.WarningInfo.InvalidTime {
			return nil, fmt.Errorf("assertion has invalid time")
		}
		if assertionInfo.WarningInfo.NotInAudience {
			return nil, fmt.Errorf("assertion not in expected audience")
		}
	}

	ident := identityFromAssertion(assertionInfo, p.cfg.GroupsAttribute)
	if ident.NameID == "" {
		return nil, fmt.Errorf("missing NameID in SAML assertion")
	}
	return ident, nil
}

// identityFromAssertion extracts the name identifier, raw attributes, and
// claimed groups from a validated assertion.
func identityFromAssertion(info *saml2.AssertionInfo, groupsAttribute string) *identity.ExternalIdentity {
	ident := &identity.ExternalIdentity{
		NameID:     info.NameID,
		Attributes: make(map[string][]string),
	}

	for _, attr := range info.Values {
		values := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			values = append(values, v.Value)
		}
		ident.Attributes[attr.Name] = values

		if attr.Name == groupsAttribute {
			for _, v := range values {
				// Some providers pack all groups into one comma-separated
				// value.
				for _, g := range strings.Split(v, ",") {
					g = strings.TrimSpace(g)
					if g != "" {
						ident.Groups = append(ident.Groups, g)
					}
				}
			}
		}
	}

	return ident
}

// Logout redirects to the identity provider's single logout endpoint when one
// is configured; otherwise it is a no-op and only the local session ends.
func (p *SAMLProvider) Logout(w http.ResponseWriter, r *http.Request, sessionIndex string) error {
	if p.cfg.SLOURL == "" {
		return nil
	}

	logoutRequestXML := fmt.Sprintf(`<?xml version="1.0"?>
<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"
                     xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"
                     ID="_%s"
                     Version="2.0"
                     IssueInstant="%s"
                     Destination="%s">
  <saml:Issuer>%s</saml:Issuer>
  <saml:NameID Format="urn:oasis:names:tc:SAML:2.0:nameid-format:transient"></saml:NameID>
  <samlp:SessionIndex>%s</samlp:SessionIndex>
</samlp:LogoutRequest>`,
		generateID(),
		time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		p.cfg.SLOURL,
		p.sp.ServiceProviderIssuer,
		sessionIndex)

	encodedRequest := base64.StdEncoding.EncodeToString([]byte(logoutRequestXML))
	logoutURL, err := url.Parse(p.cfg.SLOURL)
	if err != nil {
		return fmt.Errorf("invalid SLO URL: %w", err)
	}
	query := logoutURL.Query()
	query.Set("SAMLRequest", encodedRequest)
	logoutURL.RawQuery = query.Encode()

	http.Redirect(w, r, logoutURL.String(), http.StatusFound)
	return nil
}

// generateID generates a random ID for SAML requests
func generateID() string {
	b := make([]byte, 20)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// ValidateConfig checks the SAML configuration for completeness.
func (p *SAMLProvider) ValidateConfig() error {
	cfg := p.cfg

	if cfg.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if cfg.SSOURL == "" {
		return fmt.Errorf("sso_url is required")
	}
	if cfg.Certificate == "" {
		return fmt.Errorf("certificate is required")
	}

	block, _ := pem.Decode([]byte(cfg.Certificate))
	if block == nil {
		return fmt.Errorf("invalid certificate PEM format")
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return fmt.Errorf("invalid certificate: %w", err)
	}

	if cfg.PrivateKey != "" {
		keyBlock, _ := pem.Decode([]byte(cfg.PrivateKey))
		if keyBlock == nil {
			return fmt.Errorf("invalid private key PEM format")
		}
	}

	return nil
}

// Metadata returns the service provider metadata document.
func (p *SAMLProvider) Metadata() ([]byte, error) {
	metadataXML := fmt.Sprintf(`<?xml version="1.0"?>
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata"
                     entityID="%s">
  <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
                                 Location="%s"
                                 index="1"/>
  </md:SPSSODescriptor>
</md:EntityDescriptor>`,
		p.sp.ServiceProviderIssuer,
		p.sp.AssertionConsumerServiceURL)

	return []byte(metadataXML), nil
}
