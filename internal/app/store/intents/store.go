// internal/app/store/intents/store.go
package intents

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/fieldauth/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultTTL is how long a federated round-trip may take.
const DefaultTTL = 10 * time.Minute

// ErrNotFound is returned when no live intent has the state.
var ErrNotFound = errors.New("session intent not found or expired")

// Store holds SessionIntents across a federated redirect.
type Store struct {
	c   *mongo.Collection
	ttl time.Duration
}

// New creates an intent Store. A non-positive ttl uses DefaultTTL.
func New(db *mongo.Database, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{c: db.Collection("session_intents"), ttl: ttl}
}

// TTL returns the lifetime given to new intents.
func (s *Store) TTL() time.Duration { return s.ttl }

// EnsureIndexes creates the TTL index. The state is the _id.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_intents_ttl"),
	})
	return err
}

// Save stores in, stamping its timestamps.
func (s *Store) Save(ctx context.Context, in *models.SessionIntent) error {
	if in.State == "" {
		return errors.New("session intent needs a state")
	}
	now := time.Now().UTC()
	in.CreatedAt = now
	in.ExpiresAt = now.Add(s.ttl)
	_, err := s.c.InsertOne(ctx, in)
	return err
}

// Consume removes and returns the live intent for state. A second call with
// the same state returns ErrNotFound.
func (s *Store) Consume(ctx context.Context, state string) (*models.SessionIntent, error) {
	if state == "" {
		return nil, ErrNotFound
	}
	var in models.SessionIntent
	err := s.c.FindOneAndDelete(ctx, bson.M{
		"_id":        state,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&in)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// CleanupExpired removes expired intents. The TTL monitor normally does this;
// this covers the gap between its runs.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lt": time.Now().UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
