package onetimecodes_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/store/onetimecodes"
	"github.com/dalemusser/fieldauth/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
)

func TestStore_CreatePeekConsume(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := onetimecodes.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	raw, err := store.Create(ctx, onetimecodes.PurposeVerifyEmail, "ada", "ada@example.com", "/done", time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(raw) != 2*onetimecodes.CodeLength {
		t.Errorf("expected %d hex chars, got %d", 2*onetimecodes.CodeLength, len(raw))
	}

	// The raw code is never stored.
	n, err := db.Collection("one_time_codes").CountDocuments(ctx, bson.M{"_id": raw})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Error("raw code must not be stored")
	}

	peeked, err := store.Peek(ctx, onetimecodes.PurposeVerifyEmail, raw)
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if peeked.UserID != "ada" || peeked.Email != "ada@example.com" || peeked.Redirect != "/done" {
		t.Errorf("unexpected code: %+v", peeked)
	}

	if _, err := store.Consume(ctx, onetimecodes.PurposeVerifyEmail, raw); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if _, err := store.Consume(ctx, onetimecodes.PurposeVerifyEmail, raw); !errors.Is(err, onetimecodes.ErrNotFound) {
		t.Errorf("expected ErrNotFound on reuse, got %v", err)
	}
}

func TestStore_PurposeIsolation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := onetimecodes.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	raw, err := store.Create(ctx, onetimecodes.PurposeVerifyEmail, "ada", "ada@example.com", "", time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Consume(ctx, onetimecodes.PurposeResetPassword, raw); !errors.Is(err, onetimecodes.ErrNotFound) {
		t.Errorf("a verify code must not reset a password, got %v", err)
	}
}

func TestStore_CreateReplacesPrevious(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := onetimecodes.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	first, _ := store.Create(ctx, onetimecodes.PurposeResetPassword, "ada", "", "", time.Hour)
	second, err := store.Create(ctx, onetimecodes.PurposeResetPassword, "ada", "", "", time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := store.Peek(ctx, onetimecodes.PurposeResetPassword, first); !errors.Is(err, onetimecodes.ErrNotFound) {
		t.Errorf("expected earlier code to be replaced, got %v", err)
	}
	if _, err := store.Peek(ctx, onetimecodes.PurposeResetPassword, second); err != nil {
		t.Errorf("expected latest code to work, got %v", err)
	}
}

func TestStore_Expired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := onetimecodes.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	raw, err := store.Create(ctx, onetimecodes.PurposeResetPassword, "ada", "", "", -time.Minute)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Peek(ctx, onetimecodes.PurposeResetPassword, raw); !errors.Is(err, onetimecodes.ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired code, got %v", err)
	}
}

func TestHash_Stable(t *testing.T) {
	if onetimecodes.Hash("abc") != onetimecodes.Hash("abc") {
		t.Error("hash must be deterministic")
	}
	if onetimecodes.Hash("abc") == onetimecodes.Hash("abd") {
		t.Error("different codes must hash differently")
	}
}
