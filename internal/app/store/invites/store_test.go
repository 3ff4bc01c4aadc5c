package invites_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/store/invites"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"github.com/dalemusser/fieldauth/internal/testutil"
)

func newStore(t *testing.T) *invites.Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store := invites.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}
	return store
}

func create(t *testing.T, store *invites.Store, code string, uses int) *models.Invite {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()
	inv := &models.Invite{ID: code, ResourceID: "P", Role: "user", Remaining: uses, CreatedBy: "admin"}
	if err := store.Create(ctx, inv); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return inv
}

func TestStore_Create_GeneratesCode(t *testing.T) {
	store := newStore(t)
	inv := create(t, store, "", 1)
	if inv.ID == "" {
		t.Fatal("expected a generated code")
	}
	if inv.Rev != 1 {
		t.Errorf("expected rev 1, got %d", inv.Rev)
	}
}

func TestStore_Create_Duplicate(t *testing.T) {
	store := newStore(t)
	create(t, store, "INV1", 1)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	err := store.Create(ctx, &models.Invite{ID: "INV1", ResourceID: "P", Role: "user"})
	if !errors.Is(err, invites.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestStore_Create_RejectsBadInvite(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	bad := []models.Invite{
		{ResourceID: "", Role: "user"},
		{ResourceID: "P", Role: ""},
		{ResourceID: "P", Role: "user", Remaining: -1},
	}
	for _, inv := range bad {
		inv := inv
		if err := store.Create(ctx, &inv); err == nil {
			t.Errorf("expected error for %+v", inv)
		}
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, invites.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Consume_Unlimited(t *testing.T) {
	store := newStore(t)
	create(t, store, "OPEN", 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for i := 0; i < 25; i++ {
		inv, err := store.Consume(ctx, "OPEN", time.Now())
		if err != nil {
			t.Fatalf("Consume %d failed: %v", i, err)
		}
		if inv.Remaining != 0 {
			t.Fatalf("unlimited invite counter changed: %d", inv.Remaining)
		}
	}
	got, err := store.Get(ctx, "OPEN")
	if err != nil {
		t.Fatalf("unlimited invite must survive: %v", err)
	}
	if got.Remaining != 0 || got.Rev != 1 {
		t.Errorf("unlimited invite was modified: %+v", got)
	}
}

func TestStore_Consume_Sequential(t *testing.T) {
	store := newStore(t)
	const n = 3
	create(t, store, "THREE", n)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for i := 0; i < n; i++ {
		inv, err := store.Consume(ctx, "THREE", time.Now())
		if err != nil {
			t.Fatalf("Consume %d failed: %v", i, err)
		}
		if inv.Remaining != n-i {
			t.Errorf("Consume %d saw remaining %d, want %d", i, inv.Remaining, n-i)
		}
	}

	if _, err := store.Consume(ctx, "THREE", time.Now()); !errors.Is(err, invites.ErrExhausted) {
		t.Errorf("expected ErrExhausted after %d uses, got %v", n, err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected exhausted invite to be deleted, found %d", len(list))
	}
}

func TestStore_Consume_Concurrent(t *testing.T) {
	store := newStore(t)
	const uses = 5
	const workers = 12
	create(t, store, "RACE", uses)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := testutil.TestContext()
			defer cancel()
			<-start
			_, err := store.Consume(ctx, "RACE", time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, invites.ErrExhausted):
				exhausted++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if succeeded != uses {
		t.Errorf("expected exactly %d redemptions, got %d", uses, succeeded)
	}
	if exhausted != workers-uses {
		t.Errorf("expected %d exhausted, got %d", workers-uses, exhausted)
	}

	ctx, cancel := testutil.TestContext()
	defer cancel()
	if _, err := store.Get(ctx, "RACE"); !errors.Is(err, invites.ErrExhausted) {
		t.Errorf("expected spent invite to be gone, got %v", err)
	}
}

func TestStore_Consume_Expired(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	past := time.Now().Add(-time.Hour)
	inv := &models.Invite{ID: "OLD", ResourceID: "P", Role: "user", Remaining: 2, ExpiresAt: &past}
	if err := store.Create(ctx, inv); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Consume(ctx, "OLD", time.Now()); !errors.Is(err, invites.ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}

	n, err := store.PurgeExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
}

func TestStore_Release(t *testing.T) {
	store := newStore(t)
	create(t, store, "TWO", 2)
	create(t, store, "ONE", 1)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	t.Run("decremented use is returned", func(t *testing.T) {
		inv, err := store.Consume(ctx, "TWO", time.Now())
		if err != nil {
			t.Fatalf("Consume failed: %v", err)
		}
		if err := store.Release(ctx, inv); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		got, _ := store.Get(ctx, "TWO")
		if got.Remaining != 2 {
			t.Errorf("expected 2 remaining after release, got %d", got.Remaining)
		}
	})

	t.Run("deleted last use is restored", func(t *testing.T) {
		inv, err := store.Consume(ctx, "ONE", time.Now())
		if err != nil {
			t.Fatalf("Consume failed: %v", err)
		}
		if err := store.Release(ctx, inv); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		got, err := store.Get(ctx, "ONE")
		if err != nil {
			t.Fatalf("expected restored invite, got %v", err)
		}
		if got.Remaining != 1 {
			t.Errorf("expected 1 remaining, got %d", got.Remaining)
		}
		if _, err := store.Consume(ctx, "ONE", time.Now()); err != nil {
			t.Errorf("restored invite must be redeemable: %v", err)
		}
	})
}

func TestStore_Revoke(t *testing.T) {
	store := newStore(t)
	create(t, store, "GONE", 3)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.Revoke(ctx, "GONE"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := store.Revoke(ctx, "GONE"); !errors.Is(err, invites.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second revoke, got %v", err)
	}
	if _, err := store.Consume(ctx, "GONE", time.Now()); !errors.Is(err, invites.ErrNotFound) {
		t.Errorf("expected ErrNotFound for revoked invite, got %v", err)
	}
}
