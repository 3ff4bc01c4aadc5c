package credentials

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/dalemusser/fieldauth/internal/domain/models"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// KeyStore persists signing keys. Active returns a nil key and nil error
// when no key is active.
type KeyStore interface {
	Active(ctx context.Context) (*models.SigningKey, error)
	ListVerifiable(ctx context.Context, retiredAfter time.Time) ([]models.SigningKey, error)
	Insert(ctx context.Context, k models.SigningKey) error
	Rotate(ctx context.Context, next models.SigningKey, now time.Time) error
}

const (
	cacheActive = "active"
	cacheVerify = "verify"
	cacheReload = "reload"
)

// forcedReloadEvery caps how often unknown kids may force a store read.
const forcedReloadEvery = 5 * time.Second

// Keyring is the KeyProvider backed by the signing key store. The active key
// and the verification set are cached for ttl. An unknown kid forces a
// reload, at most once per forcedReloadEvery, so keys rotated on another
// node verify quickly without letting forged kids reach the store per request.
type Keyring struct {
	store KeyStore
	cache *gocache.Cache
	grace time.Duration
	log   *zap.Logger
	now   func() time.Time
}

// NewKeyring builds a Keyring. grace is how long retired keys stay in the
// verification set; it should exceed the refresh token lifetime.
func NewKeyring(store KeyStore, ttl, grace time.Duration, logger *zap.Logger) *Keyring {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Keyring{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
		grace: grace,
		log:   logger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// EnsureActive creates a first signing key when the store has none.
func (k *Keyring) EnsureActive(ctx context.Context) error {
	active, err := k.store.Active(ctx)
	if err != nil {
		return err
	}
	if active != nil {
		return nil
	}
	sk, err := GenerateKey()
	if err != nil {
		return err
	}
	if err := k.store.Insert(ctx, toModel(sk, k.now())); err != nil {
		return fmt.Errorf("credentials: insert first key: %w", err)
	}
	k.log.Info("credentials: created initial signing key", zap.String("kid", sk.KID))
	k.cache.Flush()
	return nil
}

// Rotate generates a new active key and retires the current one.
func (k *Keyring) Rotate(ctx context.Context) (string, error) {
	sk, err := GenerateKey()
	if err != nil {
		return "", err
	}
	if err := k.store.Rotate(ctx, toModel(sk, k.now()), k.now()); err != nil {
		return "", fmt.Errorf("credentials: rotate: %w", err)
	}
	k.cache.Flush()
	k.log.Info("credentials: rotated signing key", zap.String("kid", sk.KID))
	return sk.KID, nil
}

func (k *Keyring) SigningKey(ctx context.Context) (SigningKey, error) {
	if v, ok := k.cache.Get(cacheActive); ok {
		return v.(SigningKey), nil
	}
	m, err := k.store.Active(ctx)
	if err != nil {
		return SigningKey{}, err
	}
	if m == nil {
		return SigningKey{}, ErrNoSigningKey
	}
	if len(m.PrivateKey) != ed25519.PrivateKeySize {
		return SigningKey{}, fmt.Errorf("credentials: key %s has malformed private key", m.KID)
	}
	sk := SigningKey{KID: m.KID, Private: ed25519.PrivateKey(m.PrivateKey)}
	k.cache.SetDefault(cacheActive, sk)
	return sk, nil
}

func (k *Keyring) VerificationKey(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	set, err := k.verificationSet(ctx, false)
	if err != nil {
		return nil, err
	}
	if pub, ok := set[kid]; ok {
		return pub, nil
	}
	// Add fails while the latch from the last forced reload is live.
	if err := k.cache.Add(cacheReload, struct{}{}, forcedReloadEvery); err != nil {
		return nil, ErrUnknownKey
	}
	set, err = k.verificationSet(ctx, true)
	if err != nil {
		return nil, err
	}
	if pub, ok := set[kid]; ok {
		return pub, nil
	}
	return nil, ErrUnknownKey
}

func (k *Keyring) VerificationKeys(ctx context.Context) ([]VerificationKey, error) {
	set, err := k.verificationSet(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]VerificationKey, 0, len(set))
	for kid, pub := range set {
		out = append(out, VerificationKey{KID: kid, Public: pub})
	}
	return out, nil
}

func (k *Keyring) verificationSet(ctx context.Context, reload bool) (map[string]ed25519.PublicKey, error) {
	if !reload {
		if v, ok := k.cache.Get(cacheVerify); ok {
			return v.(map[string]ed25519.PublicKey), nil
		}
	}
	keys, err := k.store.ListVerifiable(ctx, k.now().Add(-k.grace))
	if err != nil {
		return nil, err
	}
	set := make(map[string]ed25519.PublicKey, len(keys))
	for _, m := range keys {
		if len(m.PublicKey) != ed25519.PublicKeySize {
			k.log.Warn("credentials: skipping malformed public key", zap.String("kid", m.KID))
			continue
		}
		set[m.KID] = ed25519.PublicKey(m.PublicKey)
	}
	k.cache.SetDefault(cacheVerify, set)
	return set, nil
}

func toModel(sk SigningKey, now time.Time) models.SigningKey {
	return models.SigningKey{
		KID:        sk.KID,
		Alg:        "EdDSA",
		PrivateKey: []byte(sk.Private),
		PublicKey:  []byte(sk.Private.Public().(ed25519.PublicKey)),
		Status:     models.KeyActive,
		CreatedAt:  now,
	}
}
