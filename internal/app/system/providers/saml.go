package providers

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
	"go.uber.org/zap"
)

// SAML authenticates through a SAML 2.0 identity provider using the
// HTTP-Redirect binding for requests and HTTP-POST for responses.
type SAML struct {
	base
	entityID       string
	metadataURL    string
	metadataXML    string
	emailAttribute string
	nameAttribute  string
	key            *rsa.PrivateKey
	cert           *x509.Certificate
	baseURL        string
	client         *http.Client
	log            *zap.Logger

	mu sync.Mutex
	sp *saml.ServiceProvider
}

// NewSAML constructs the saml family adapter. The SP key pair is loaded
// eagerly; IdP metadata given by URL is fetched on first use.
func NewSAML(_ context.Context, cfg ProviderConfig, env Env) (FederatedAdapter, error) {
	if env.BaseURL == "" {
		return nil, fmt.Errorf("saml: base URL is required to build the ACS URL")
	}
	kp, err := tls.LoadX509KeyPair(cfg.String("certFile"), cfg.String("keyFile"))
	if err != nil {
		return nil, fmt.Errorf("saml: load key pair: %w", err)
	}
	key, ok := kp.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("saml: key in %s is not an RSA key", cfg.String("keyFile"))
	}
	cert, err := x509.ParseCertificate(kp.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("saml: parse certificate: %w", err)
	}
	s := &SAML{
		base:           newBase(cfg),
		entityID:       cfg.String("entityID"),
		metadataURL:    cfg.String("idpMetadataURL"),
		metadataXML:    cfg.String("idpMetadataXML"),
		emailAttribute: cfg.String("emailAttribute"),
		nameAttribute:  cfg.String("nameAttribute"),
		key:            key,
		cert:           cert,
		baseURL:        strings.TrimRight(env.BaseURL, "/"),
		client:         env.httpClient(),
		log:            env.logger(),
	}
	// inline metadata is parsed now so a typo fails startup
	if s.metadataXML != "" {
		if _, err := samlsp.ParseMetadata([]byte(s.metadataXML)); err != nil {
			return nil, fmt.Errorf("saml: parse IdP metadata: %w", err)
		}
	}
	return s, nil
}

// MetadataPath is where this SP publishes its metadata.
func (s *SAML) MetadataPath() string { return "/auth/" + s.id + "/metadata" }

func (s *SAML) serviceProvider(ctx context.Context) (*saml.ServiceProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sp != nil {
		return s.sp, nil
	}

	var (
		md  *saml.EntityDescriptor
		err error
	)
	if s.metadataXML != "" {
		md, err = samlsp.ParseMetadata([]byte(s.metadataXML))
	} else {
		var u *url.URL
		u, err = url.Parse(s.metadataURL)
		if err == nil {
			md, err = samlsp.FetchMetadata(ctx, s.client, *u)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("saml: IdP metadata: %w", err)
	}

	acs, _ := url.Parse(s.baseURL + s.callback)
	meta, _ := url.Parse(s.baseURL + s.MetadataPath())
	s.sp = &saml.ServiceProvider{
		EntityID:    s.entityID,
		Key:         s.key,
		Certificate: s.cert,
		MetadataURL: *meta,
		AcsURL:      *acs,
		IDPMetadata: md,
	}
	return s.sp, nil
}

func (s *SAML) Begin(ctx context.Context, state string) (Begin, error) {
	sp, err := s.serviceProvider(ctx)
	if err != nil {
		return Begin{}, err
	}
	idpURL := sp.GetSSOBindingLocation(saml.HTTPRedirectBinding)
	if idpURL == "" {
		return Begin{}, errors.New("saml: IdP has no HTTP-Redirect SSO endpoint")
	}
	req, err := sp.MakeAuthenticationRequest(idpURL, saml.HTTPRedirectBinding, saml.HTTPPostBinding)
	if err != nil {
		return Begin{}, fmt.Errorf("saml: build AuthnRequest: %w", err)
	}
	// RelayState carries the intent state back to the ACS
	redirectURL, err := req.Redirect(state, sp)
	if err != nil {
		return Begin{}, fmt.Errorf("saml: encode AuthnRequest: %w", err)
	}
	return Begin{RedirectURL: redirectURL.String(), RequestID: req.ID}, nil
}

func (s *SAML) Verify(ctx context.Context, r *http.Request, p Pending) (*Assertion, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("saml: parse form: %w", err)
	}
	if r.PostForm.Get("SAMLResponse") == "" {
		return nil, ErrMissingCode
	}
	sp, err := s.serviceProvider(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	if p.RequestID != "" {
		ids = []string{p.RequestID}
	}
	assertion, err := sp.ParseResponse(r, ids)
	if err != nil {
		var ie *saml.InvalidResponseError
		if errors.As(err, &ie) {
			s.log.Warn("saml: invalid response",
				zap.String("provider", s.id),
				zap.Error(ie.PrivateErr))
		}
		return nil, fmt.Errorf("saml: %w", err)
	}
	return s.assertionFrom(assertion), nil
}

func (s *SAML) assertionFrom(as *saml.Assertion) *Assertion {
	attrs := map[string][]string{}
	for _, st := range as.AttributeStatements {
		for _, attr := range st.Attributes {
			var vals []string
			for _, v := range attr.Values {
				if v.Value != "" {
					vals = append(vals, v.Value)
				}
			}
			attrs[attr.Name] = append(attrs[attr.Name], vals...)
			if attr.FriendlyName != "" && attr.FriendlyName != attr.Name {
				attrs[attr.FriendlyName] = append(attrs[attr.FriendlyName], vals...)
			}
		}
	}

	nameID := ""
	if as.Subject != nil && as.Subject.NameID != nil {
		nameID = as.Subject.NameID.Value
	}

	a := &Assertion{
		Provider: s.id,
		Family:   FamilySAML,
		Subject:  nameID,
		Profile: map[string]any{
			"nameID":     nameID,
			"issuer":     as.Issuer.Value,
			"attributes": attrs,
		},
	}
	if names := attrs[s.nameAttribute]; len(names) > 0 {
		a.Name = names[0]
	}

	emails := attrs[s.emailAttribute]
	if len(emails) == 0 && strings.Contains(nameID, "@") {
		emails = []string{nameID}
	}
	// the IdP is trusted by configuration, so its emails count as verified
	for _, e := range emails {
		a.Emails = append(a.Emails, AssertedEmail{Address: e, Verified: true})
	}
	return a
}

// Metadata returns this SP's metadata document.
func (s *SAML) Metadata(ctx context.Context) ([]byte, string, error) {
	sp, err := s.serviceProvider(ctx)
	if err != nil {
		return nil, "", err
	}
	buf, err := xml.MarshalIndent(sp.Metadata(), "", "  ")
	if err != nil {
		return nil, "", err
	}
	return buf, "application/samlmetadata+xml", nil
}
