// Package signingkeys persists the Ed25519 keys credentials are signed with.
package signingkeys

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/fieldauth/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("signing_keys")}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_signing_keys_status"),
		},
		{
			Keys:    bson.D{{Key: "retired_at", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("idx_signing_keys_retired"),
		},
	})
	return err
}

// Active returns the newest active key, or nil when there is none.
func (s *Store) Active(ctx context.Context) (*models.SigningKey, error) {
	var k models.SigningKey
	err := s.c.FindOne(ctx,
		bson.M{"status": models.KeyActive},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&k)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ListVerifiable returns active keys plus keys retired after retiredAfter.
func (s *Store) ListVerifiable(ctx context.Context, retiredAfter time.Time) ([]models.SigningKey, error) {
	filter := bson.M{"$or": []bson.M{
		{"status": models.KeyActive},
		{"status": models.KeyRetired, "retired_at": bson.M{"$gt": retiredAfter}},
	}}
	opts := options.Find().SetProjection(bson.M{"private_key": 0})
	return s.find(ctx, filter, opts)
}

// List returns every key, newest first, without private material.
func (s *Store) List(ctx context.Context) ([]models.SigningKey, error) {
	opts := options.Find().
		SetProjection(bson.M{"private_key": 0}).
		SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.find(ctx, bson.M{}, opts)
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.SigningKey, error) {
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []models.SigningKey
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Insert stores a new key.
func (s *Store) Insert(ctx context.Context, k models.SigningKey) error {
	_, err := s.c.InsertOne(ctx, k)
	return err
}

// Rotate inserts next as active and then retires every other active key.
// Inserting first keeps an active key available throughout; Active prefers
// the newest.
func (s *Store) Rotate(ctx context.Context, next models.SigningKey, now time.Time) error {
	next.Status = models.KeyActive
	if _, err := s.c.InsertOne(ctx, next); err != nil {
		return err
	}
	_, err := s.c.UpdateMany(ctx,
		bson.M{"status": models.KeyActive, "_id": bson.M{"$ne": next.KID}},
		bson.M{"$set": bson.M{"status": models.KeyRetired, "retired_at": now}},
	)
	return err
}

// DeleteRetiredBefore removes keys retired before cutoff. Tokens they signed
// can no longer verify.
func (s *Store) DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{
		"status":     models.KeyRetired,
		"retired_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
