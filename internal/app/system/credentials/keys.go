package credentials

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNoSigningKey is returned when no active signing key is available.
var ErrNoSigningKey = errors.New("credentials: no active signing key")

// ErrUnknownKey is returned when a token names a key outside the
// verification set.
var ErrUnknownKey = errors.New("credentials: unknown key id")

// SigningKey is the private half of the active key.
type SigningKey struct {
	KID     string
	Private ed25519.PrivateKey
}

// VerificationKey is a public key that may have signed a live token.
type VerificationKey struct {
	KID    string
	Public ed25519.PublicKey
}

// KeyProvider supplies key material. Rotation and storage belong to the
// provider; the issuer only asks for the current signing key and for
// verification keys by id.
type KeyProvider interface {
	SigningKey(ctx context.Context) (SigningKey, error)
	VerificationKey(ctx context.Context, kid string) (ed25519.PublicKey, error)
	VerificationKeys(ctx context.Context) ([]VerificationKey, error)
}

// NewKeyID returns a fresh key id.
func NewKeyID() string { return uuid.NewString() }

// GenerateKey creates a new Ed25519 signing key.
func GenerateKey() (SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{KID: NewKeyID(), Private: priv}, nil
}

// StaticKeys is an in-memory KeyProvider. The first key passed to
// NewStaticKeys signs; all of them verify.
type StaticKeys struct {
	mu      sync.RWMutex
	active  SigningKey
	publics map[string]ed25519.PublicKey
}

// NewStaticKeys builds a provider around active plus optional retired keys.
func NewStaticKeys(active SigningKey, retired ...VerificationKey) *StaticKeys {
	s := &StaticKeys{active: active, publics: map[string]ed25519.PublicKey{}}
	if active.Private != nil {
		s.publics[active.KID] = active.Private.Public().(ed25519.PublicKey)
	}
	for _, k := range retired {
		s.publics[k.KID] = k.Public
	}
	return s
}

// Rotate makes next the signing key while keeping the old one verifiable.
func (s *StaticKeys) Rotate(next SigningKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = next
	s.publics[next.KID] = next.Private.Public().(ed25519.PublicKey)
}

func (s *StaticKeys) SigningKey(context.Context) (SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active.Private == nil {
		return SigningKey{}, ErrNoSigningKey
	}
	return s.active, nil
}

func (s *StaticKeys) VerificationKey(_ context.Context, kid string) (ed25519.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.publics[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return pub, nil
}

func (s *StaticKeys) VerificationKeys(context.Context) ([]VerificationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VerificationKey, 0, len(s.publics))
	for kid, pub := range s.publics {
		out = append(out, VerificationKey{KID: kid, Public: pub})
	}
	return out, nil
}
