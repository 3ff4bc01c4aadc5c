// internal/domain/models/signingkey.go
package models

import "time"

// Signing key statuses.
const (
	KeyActive  = "active"
	KeyRetired = "retired"
)

// SigningKey is an Ed25519 key pair used to sign credentials. Exactly one key
// is active; retired keys stay in the verification set until RetiredAt plus
// the configured grace period.
type SigningKey struct {
	KID        string     `bson:"_id"`
	Alg        string     `bson:"alg"`
	PrivateKey []byte     `bson:"private_key"`
	PublicKey  []byte     `bson:"public_key"`
	Status     string     `bson:"status"`
	CreatedAt  time.Time  `bson:"created_at"`
	RetiredAt  *time.Time `bson:"retired_at,omitempty"`
}
