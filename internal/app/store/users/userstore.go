// Package userstore is the user directory: the canonical user records keyed
// by lower-cased username or primary email.
package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/system/normalize"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when no user matches.
	ErrNotFound = errors.New("user not found")
	// ErrConflict is returned by Save when the stored revision moved on.
	ErrConflict = errors.New("user revision conflict")
	// ErrDuplicate is returned when a username or email already belongs to
	// another user.
	ErrDuplicate = errors.New("a user with this username or email already exists")

	errNoID = errors.New("user id required")
)

type Store struct {
	c   *mongo.Collection
	now func() time.Time
}

func New(db *mongo.Database) *Store {
	return &Store{
		c:   db.Collection("users"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the unique email index. The username is the _id.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "emails.email", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"emails.email": bson.M{"$exists": true}}).
				SetName("uniq_users_email"),
		},
		{
			Keys:    bson.D{{Key: "resource_roles.resource_id", Value: 1}},
			Options: options.Index().SetName("idx_users_resource"),
		},
	})
	return err
}

// GetByID loads a user by id (case-folded).
func (s *Store) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": normalize.Username(id)})
}

// GetByEmail looks up the user holding email, verified or not.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = normalize.Email(email)
	if email == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"emails.email": email})
}

// GetByIdentifier resolves a login identifier, trying it as a username
// first and then as an email.
func (s *Store) GetByIdentifier(ctx context.Context, ident string) (*models.User, error) {
	u, err := s.GetByID(ctx, ident)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return u, err
	}
	return s.GetByEmail(ctx, ident)
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts u with rev 1. The id and emails are case-folded first.
func (s *Store) Create(ctx context.Context, u *models.User) error {
	u.ID = normalize.Username(u.ID)
	if u.ID == "" {
		return errNoID
	}
	for i := range u.Emails {
		u.Emails[i].Email = normalize.Email(u.Emails[i].Email)
	}
	u.Name = normalize.Name(u.Name)
	if u.Emails == nil {
		u.Emails = []models.UserEmail{}
	}
	if u.GlobalRoles == nil {
		u.GlobalRoles = []string{}
	}
	if u.ResourceRoles == nil {
		u.ResourceRoles = []models.ResourceRole{}
	}
	if u.Profiles == nil {
		u.Profiles = map[string]models.Profile{}
	}

	now := s.now()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Rev = 1

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Save replaces the stored record when its revision still equals u.Rev and
// bumps the revision on success. A stale u yields ErrConflict; the caller
// must re-read and re-apply its change.
func (s *Store) Save(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		return errNoID
	}
	prev := u.Rev
	next := *u
	next.Rev = prev + 1
	next.UpdatedAt = s.now()

	res, err := s.c.ReplaceOne(ctx, bson.M{"_id": u.ID, "rev": prev}, next)
	if err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicate
		}
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	u.Rev = next.Rev
	u.UpdatedAt = next.UpdatedAt
	return nil
}
