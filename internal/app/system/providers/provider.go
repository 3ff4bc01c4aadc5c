// Package providers holds the identity-provider adapters and the registry
// that maps provider ids onto them.
//
// Provider families form a closed set: local, google, oidc and saml. Each
// federated family has one constructor (NewGoogle, NewOIDC, NewSAML) that
// turns a validated ProviderConfig into a FederatedAdapter. The Registry is
// built once at startup and never mutated afterwards.
package providers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Family is the provider family.
type Family string

const (
	FamilyLocal  Family = "local"
	FamilyGoogle Family = "google"
	FamilyOIDC   Family = "oidc"
	FamilySAML   Family = "saml"
)

// ErrProviderDenied is returned by Verify when the provider reports that the
// user declined or the provider failed the round trip.
var ErrProviderDenied = errors.New("providers: provider denied the request")

// ErrMissingCode is returned by Verify when the callback carries no
// authorization code or assertion.
var ErrMissingCode = errors.New("providers: callback carried no code or assertion")

// Adapter is implemented by every provider, including local.
type Adapter interface {
	ID() string
	Family() Family
	DisplayName() string
	Index() int
}

// FederatedAdapter is a provider reached through a browser redirect.
type FederatedAdapter interface {
	Adapter

	// CallbackPath is where the provider returns the browser.
	CallbackPath() string

	// Begin returns the provider URL the browser should be sent to. state is
	// echoed back by the provider and ties the callback to a SessionIntent.
	Begin(ctx context.Context, state string) (Begin, error)

	// Verify validates the provider's callback and returns the identity it
	// asserts.
	Verify(ctx context.Context, r *http.Request, p Pending) (*Assertion, error)
}

// MetadataPublisher is implemented by adapters that publish service metadata
// (SAML SP metadata).
type MetadataPublisher interface {
	Metadata(ctx context.Context) ([]byte, string, error)
}

// Begin is the result of starting a federated round trip.
type Begin struct {
	RedirectURL string
	// RequestID identifies the outstanding request when the family needs it
	// to validate the response (SAML AuthnRequest ID).
	RequestID string
}

// Pending carries what the callback needs from the stored SessionIntent.
type Pending struct {
	State     string
	RequestID string
}

// AssertedEmail is one email claimed by a provider.
type AssertedEmail struct {
	Address  string
	Verified bool
}

// Assertion is a verified external identity.
type Assertion struct {
	Provider string
	Family   Family
	Subject  string
	Emails   []AssertedEmail
	Name     string
	Profile  map[string]any
}

// Env carries the process-level values every factory needs.
type Env struct {
	// BaseURL is the public URL of this service; callback URLs are built on it.
	BaseURL    string
	HTTPClient *http.Client
	Log        *zap.Logger
}

func (e Env) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

func (e Env) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// base holds the fields every adapter shares.
type base struct {
	id          string
	family      Family
	displayName string
	index       int
	callback    string
}

func newBase(cfg ProviderConfig) base {
	return base{
		id:          cfg.ID,
		family:      cfg.Family,
		displayName: cfg.DisplayName,
		index:       cfg.Index,
		callback:    cfg.CallbackPath,
	}
}

func (b base) ID() string           { return b.id }
func (b base) Family() Family       { return b.family }
func (b base) DisplayName() string  { return b.displayName }
func (b base) Index() int           { return b.index }
func (b base) CallbackPath() string { return b.callback }

// Local is the password provider. Password checks live in the reconciler;
// the adapter only takes part in listing and lookup.
type Local struct{}

func (Local) ID() string          { return string(FamilyLocal) }
func (Local) Family() Family      { return FamilyLocal }
func (Local) DisplayName() string { return "Email and password" }
func (Local) Index() int          { return -1 }
