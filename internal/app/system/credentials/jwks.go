package credentials

import (
	"context"
	"encoding/base64"
	"sort"
)

// JWK is a public Ed25519 key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	X   string `json:"x"`
}

// JWKSet is the document served at /.well-known/jwks.json.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the current verification keys, ordered by kid.
func (i *Issuer) JWKS(ctx context.Context) (JWKSet, error) {
	keys, err := i.keys.VerificationKeys(ctx)
	if err != nil {
		return JWKSet{}, err
	}
	set := JWKSet{Keys: make([]JWK, 0, len(keys))}
	for _, k := range keys {
		set.Keys = append(set.Keys, JWK{
			Kty: "OKP",
			Crv: "Ed25519",
			Kid: k.KID,
			Use: "sig",
			Alg: "EdDSA",
			X:   base64.RawURLEncoding.EncodeToString(k.Public),
		})
	}
	sort.Slice(set.Keys, func(a, b int) bool { return set.Keys[a].Kid < set.Keys[b].Kid })
	return set, nil
}
