package metricsstore_test

import (
	"testing"
	"time"

	metricsstore "github.com/dalemusser/fieldauth/internal/app/store/metrics"
	"github.com/dalemusser/fieldauth/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
)

func TestFetchCounts_Empty(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	counts := metricsstore.FetchCounts(ctx, db)

	if counts != (metricsstore.Counts{}) {
		t.Errorf("expected zero counts, got %+v", counts)
	}
}

func TestFetchCounts_WithData(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	now := time.Now().UTC()
	if _, err := db.Collection("users").InsertMany(ctx, []any{
		bson.M{"_id": "a"}, bson.M{"_id": "b"}, bson.M{"_id": "c"},
	}); err != nil {
		t.Fatalf("insert users: %v", err)
	}
	if _, err := db.Collection("invites").InsertOne(ctx, bson.M{"_id": "INV", "remaining": 2}); err != nil {
		t.Fatalf("insert invite: %v", err)
	}
	if _, err := db.Collection("signing_keys").InsertMany(ctx, []any{
		bson.M{"_id": "k1", "status": "retired", "retired_at": now},
		bson.M{"_id": "k2", "status": "active"},
	}); err != nil {
		t.Fatalf("insert keys: %v", err)
	}

	counts := metricsstore.FetchCounts(ctx, db)

	if counts.Users != 3 {
		t.Errorf("Users: got %d, want 3", counts.Users)
	}
	if counts.Invites != 1 {
		t.Errorf("Invites: got %d, want 1", counts.Invites)
	}
	if counts.ActiveKeys != 1 {
		t.Errorf("ActiveKeys: got %d, want 1", counts.ActiveKeys)
	}
	if counts.PendingIntents != 0 {
		t.Errorf("PendingIntents: got %d, want 0", counts.PendingIntents)
	}
}
