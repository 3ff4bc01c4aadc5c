// internal/app/store/onetimecodes/store.go
package onetimecodes

// Codes are mailed to the user in raw form and stored only as a SHA-256
// digest, which is also the document id.

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Purposes.
const (
	PurposeVerifyEmail   = "verify_email"
	PurposeResetPassword = "reset_password"
)

const (
	// CodeLength is the raw code size in bytes (64 hex chars).
	CodeLength = 32
	// DefaultVerifyExpiry is how long an email verification link works.
	DefaultVerifyExpiry = 24 * time.Hour
	// DefaultResetExpiry is how long a password reset link works.
	DefaultResetExpiry = time.Hour
)

// ErrNotFound is returned when a code is unknown, expired, already used or
// issued for another purpose.
var ErrNotFound = errors.New("code not found or expired")

// Code is a pending one-time code.
type Code struct {
	Hash      string    `bson:"_id"`
	Purpose   string    `bson:"purpose"`
	UserID    string    `bson:"user_id"`
	Email     string    `bson:"email,omitempty"`
	Redirect  string    `bson:"redirect,omitempty"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// Store manages one-time codes.
type Store struct {
	c *mongo.Collection
}

// New creates a code Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("one_time_codes")}
}

// EnsureIndexes creates the TTL index and the per-user lookup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("idx_codes_ttl").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "purpose", Value: 1}},
			Options: options.Index().SetName("idx_codes_user_purpose"),
		},
	})
	return err
}

// Hash returns the stored digest of a raw code.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Create issues a new code for userID and purpose, replacing any earlier
// one. The raw code is returned for delivery and is not stored.
func (s *Store) Create(ctx context.Context, purpose, userID, email, redirect string, ttl time.Duration) (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	raw := hex.EncodeToString(buf)

	if _, err := s.c.DeleteMany(ctx, bson.M{"user_id": userID, "purpose": purpose}); err != nil {
		return "", fmt.Errorf("clear previous codes: %w", err)
	}

	now := time.Now().UTC()
	c := Code{
		Hash:      Hash(raw),
		Purpose:   purpose,
		UserID:    userID,
		Email:     email,
		Redirect:  redirect,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if _, err := s.c.InsertOne(ctx, c); err != nil {
		return "", fmt.Errorf("insert code: %w", err)
	}
	return raw, nil
}

// Peek returns the live code without using it up.
func (s *Store) Peek(ctx context.Context, purpose, raw string) (*Code, error) {
	if raw == "" {
		return nil, ErrNotFound
	}
	var c Code
	err := s.c.FindOne(ctx, s.filter(purpose, raw)).Decode(&c)
	return decoded(&c, err)
}

// Consume returns the live code and deletes it.
func (s *Store) Consume(ctx context.Context, purpose, raw string) (*Code, error) {
	if raw == "" {
		return nil, ErrNotFound
	}
	var c Code
	err := s.c.FindOneAndDelete(ctx, s.filter(purpose, raw)).Decode(&c)
	return decoded(&c, err)
}

func (s *Store) filter(purpose, raw string) bson.M {
	return bson.M{
		"_id":        Hash(raw),
		"purpose":    purpose,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}
}

func decoded(c *Code, err error) (*Code, error) {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
