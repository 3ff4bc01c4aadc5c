package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/store/invites"
	userstore "github.com/dalemusser/fieldauth/internal/app/store/users"
	"github.com/dalemusser/fieldauth/internal/app/system/passwords"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
)

// FixtureIterations keeps password hashing fast in tests.
const FixtureIterations = 1000

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// CreateUser stores a user with a verified email and, when password is not
// empty, a local credential.
func (f *Fixtures) CreateUser(ctx context.Context, id, email, password string) *models.User {
	f.t.Helper()

	u := &models.User{ID: id, Name: id}
	if email != "" {
		u.AddEmail(email, true)
	}
	if password != "" {
		c, err := passwords.Hash(password, FixtureIterations)
		if err != nil {
			f.t.Fatalf("hash password: %v", err)
		}
		u.SetLocalCredential(c)
	}
	if err := userstore.New(f.db).Create(ctx, u); err != nil {
		f.t.Fatalf("failed to create user %q: %v", id, err)
	}
	return u
}

// CreateAdmin stores a user holding the global admin role.
func (f *Fixtures) CreateAdmin(ctx context.Context, id, email, password string) *models.User {
	f.t.Helper()
	u := f.CreateUser(ctx, id, email, password)
	u.GlobalRoles = append(u.GlobalRoles, "admin")
	if err := userstore.New(f.db).Save(ctx, u); err != nil {
		f.t.Fatalf("failed to grant admin to %q: %v", id, err)
	}
	return u
}

// CreateInvite stores an invite granting role on resourceID. A zero ttl
// means the invite never expires.
func (f *Fixtures) CreateInvite(ctx context.Context, code, resourceID, role string, remaining int, ttl time.Duration) *models.Invite {
	f.t.Helper()

	inv := &models.Invite{ID: code, ResourceID: resourceID, Role: role, Remaining: remaining}
	if ttl > 0 {
		exp := time.Now().UTC().Add(ttl)
		inv.ExpiresAt = &exp
	}
	if err := invites.New(f.db).Create(ctx, inv); err != nil {
		f.t.Fatalf("failed to create invite %q: %v", code, err)
	}
	return inv
}
