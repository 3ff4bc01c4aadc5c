// Package invites is the invite ledger. Each invite grants a resource role
// and is redeemed through a revision-conditional write so concurrent
// redemptions of a limited invite cannot exceed its uses.
package invites

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/fieldauth/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TombstoneTTL is how long an exhausted code keeps reporting ErrExhausted
// instead of ErrNotFound.
const TombstoneTTL = 30 * 24 * time.Hour

// maxConsumeAttempts bounds the re-read loop after a revision conflict.
const maxConsumeAttempts = 16

var (
	// ErrNotFound is returned when no invite has the code.
	ErrNotFound = errors.New("invite not found")
	// ErrExhausted is returned when the invite has expired or its uses are
	// spent.
	ErrExhausted = errors.New("invite expired or fully redeemed")
	// ErrDuplicate is returned by Create when the code is taken.
	ErrDuplicate = errors.New("invite code already exists")
	// ErrContention is returned when Consume keeps losing revision races.
	ErrContention = errors.New("invite redemption contention")

	errBadInvite = errors.New("invite needs a resource, a role and non-negative uses")
)

type tombstone struct {
	Code        string    `bson:"_id"`
	ExhaustedAt time.Time `bson:"exhausted_at"`
}

type Store struct {
	c     *mongo.Collection
	spent *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		c:     db.Collection("invites"),
		spent: db.Collection("invites_spent"),
	}
}

// EnsureIndexes creates the expiry index and the tombstone TTL.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("idx_invites_expires"),
		},
		{
			Keys:    bson.D{{Key: "resource_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_invites_resource"),
		},
	}); err != nil {
		return err
	}
	_, err := s.spent.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "exhausted_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(TombstoneTTL / time.Second)).SetName("idx_invites_spent_ttl"),
	})
	return err
}

// NewCode returns a random, human-typable invite code.
func NewCode() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b), nil
}

// Create stores inv. An empty ID gets a generated code.
func (s *Store) Create(ctx context.Context, inv *models.Invite) error {
	inv.ID = strings.TrimSpace(inv.ID)
	if inv.ResourceID == "" || inv.Role == "" || inv.Remaining < 0 {
		return errBadInvite
	}
	if inv.ID == "" {
		code, err := NewCode()
		if err != nil {
			return err
		}
		inv.ID = code
	}
	inv.Rev = 1
	inv.CreatedAt = time.Now().UTC()
	if _, err := s.c.InsertOne(ctx, inv); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Get loads an invite. Codes spent within TombstoneTTL report ErrExhausted.
func (s *Store) Get(ctx context.Context, code string) (*models.Invite, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotFound
	}
	var inv models.Invite
	err := s.c.FindOne(ctx, bson.M{"_id": code}).Decode(&inv)
	if err == nil {
		return &inv, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	err = s.spent.FindOne(ctx, bson.M{"_id": code}).Err()
	switch {
	case err == nil:
		return nil, ErrExhausted
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

// List returns every stored invite, newest first.
func (s *Store) List(ctx context.Context) ([]models.Invite, error) {
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Invite
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Revoke deletes an invite outright.
func (s *Store) Revoke(ctx context.Context, code string) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": strings.TrimSpace(code)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Consume redeems one use of code and returns the invite as it was before
// the redemption. Unlimited invites are returned untouched. A limited invite
// is decremented, or deleted by its last use, with a write conditioned on the
// revision that was read; losing that race re-reads and re-validates.
func (s *Store) Consume(ctx context.Context, code string, now time.Time) (*models.Invite, error) {
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		inv, err := s.Get(ctx, code)
		if err != nil {
			if attempt > 0 && errors.Is(err, ErrNotFound) {
				// it existed a moment ago; the winner spent or revoked it
				return nil, ErrExhausted
			}
			return nil, err
		}
		if !inv.Usable(now) {
			return nil, ErrExhausted
		}
		if inv.Unlimited() {
			return inv, nil
		}

		won, err := s.redeem(ctx, inv)
		if err != nil {
			return nil, err
		}
		if won {
			return inv, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, ErrContention
}

func (s *Store) redeem(ctx context.Context, inv *models.Invite) (bool, error) {
	filter := bson.M{"_id": inv.ID, "rev": inv.Rev}

	if inv.Remaining == 1 {
		res, err := s.c.DeleteOne(ctx, filter)
		if err != nil {
			return false, err
		}
		if res.DeletedCount == 0 {
			return false, nil
		}
		// Best effort: without the tombstone a later attempt reads
		// ErrNotFound rather than ErrExhausted.
		_, _ = s.spent.ReplaceOne(ctx,
			bson.M{"_id": inv.ID},
			tombstone{Code: inv.ID, ExhaustedAt: time.Now().UTC()},
			options.Replace().SetUpsert(true))
		return true, nil
	}

	filter["remaining"] = bson.M{"$gt": 1}
	res, err := s.c.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"remaining": -1, "rev": 1}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// Release returns a use taken by Consume. It is the compensation step when
// the redeeming user could not be persisted. inv is the value Consume
// returned.
func (s *Store) Release(ctx context.Context, inv *models.Invite) error {
	if inv == nil || inv.Unlimited() {
		return nil
	}
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": inv.ID},
		bson.M{"$inc": bson.M{"remaining": 1, "rev": 1}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// The record was deleted by its last use; put a single use back.
	restored := *inv
	restored.Remaining = 1
	restored.Rev = inv.Rev + 1
	if _, err := s.c.InsertOne(ctx, restored); err != nil && !wafflemongo.IsDup(err) {
		return err
	}
	_, _ = s.spent.DeleteOne(ctx, bson.M{"_id": inv.ID})
	return nil
}

// PurgeExpired deletes invites whose expiry has passed.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
