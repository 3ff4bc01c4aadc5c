package reconcile_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/store/invites"
	userstore "github.com/dalemusser/fieldauth/internal/app/store/users"
	"github.com/dalemusser/fieldauth/internal/domain/models"
)

// memUsers mirrors the Mongo directory: unique ids and emails, rev-guarded
// saves.
type memUsers struct {
	mu    sync.Mutex
	byID  map[string]models.User
	saves int

	// conflicts makes the next n saves fail with ErrConflict after bumping
	// the stored revision, as a concurrent writer would.
	conflicts int
	// concurrent, when set, is applied to the stored record alongside each
	// injected conflict.
	concurrent func(*models.User)
	createErr  error
}

func newMemUsers(users ...models.User) *memUsers {
	m := &memUsers{byID: map[string]models.User{}}
	for _, u := range users {
		if u.Rev == 0 {
			u.Rev = 1
		}
		m.byID[u.ID] = clone(u)
	}
	return m
}

func clone(u models.User) models.User {
	u.Emails = append([]models.UserEmail(nil), u.Emails...)
	u.GlobalRoles = append([]string(nil), u.GlobalRoles...)
	u.ResourceRoles = append([]models.ResourceRole(nil), u.ResourceRoles...)
	if u.Profiles != nil {
		p := make(map[string]models.Profile, len(u.Profiles))
		for k, v := range u.Profiles {
			p[k] = v
		}
		u.Profiles = p
	}
	return u
}

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[strings.ToLower(id)]
	if !ok {
		return nil, userstore.ErrNotFound
	}
	c := clone(u)
	return &c, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range m.byID {
		if u.HasEmail(email) {
			c := clone(u)
			return &c, nil
		}
	}
	return nil, userstore.ErrNotFound
}

func (m *memUsers) GetByIdentifier(ctx context.Context, ident string) (*models.User, error) {
	if u, err := m.GetByID(ctx, ident); err == nil {
		return u, nil
	}
	return m.GetByEmail(ctx, ident)
}

func (m *memUsers) emailTaken(u models.User) bool {
	for id, other := range m.byID {
		if id == u.ID {
			continue
		}
		for _, e := range u.Emails {
			if other.HasEmail(e.Email) {
				return true
			}
		}
	}
	return false
}

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byID[u.ID]; ok || m.emailTaken(*u) {
		return userstore.ErrDuplicate
	}
	u.Rev = 1
	m.byID[u.ID] = clone(*u)
	return nil
}

func (m *memUsers) Save(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[u.ID]
	if !ok {
		return userstore.ErrConflict
	}
	if m.conflicts > 0 {
		m.conflicts--
		if m.concurrent != nil {
			m.concurrent(&stored)
		}
		stored.Rev++
		m.byID[u.ID] = stored
		return userstore.ErrConflict
	}
	if stored.Rev != u.Rev {
		return userstore.ErrConflict
	}
	if m.emailTaken(*u) {
		return userstore.ErrDuplicate
	}
	u.Rev++
	m.byID[u.ID] = clone(*u)
	m.saves++
	return nil
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// memInvites mirrors the ledger semantics without revisions.
type memInvites struct {
	mu       sync.Mutex
	byID     map[string]models.Invite
	released int
	consumed int
}

func newMemInvites(invs ...models.Invite) *memInvites {
	m := &memInvites{byID: map[string]models.Invite{}}
	for _, inv := range invs {
		m.byID[inv.ID] = inv
	}
	return m
}

func (m *memInvites) Get(_ context.Context, code string) (*models.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[code]
	if !ok {
		return nil, invites.ErrNotFound
	}
	return &inv, nil
}

func (m *memInvites) Consume(_ context.Context, code string, now time.Time) (*models.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[code]
	if !ok {
		return nil, invites.ErrNotFound
	}
	if !inv.Usable(now) {
		return nil, invites.ErrExhausted
	}
	before := inv
	m.consumed++
	switch {
	case inv.Unlimited():
	case inv.Remaining == 1:
		delete(m.byID, code)
	default:
		inv.Remaining--
		m.byID[code] = inv
	}
	return &before, nil
}

func (m *memInvites) Release(_ context.Context, inv *models.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	if inv.Unlimited() {
		return nil
	}
	cur, ok := m.byID[inv.ID]
	if !ok {
		restored := *inv
		restored.Remaining = 1
		m.byID[inv.ID] = restored
		return nil
	}
	cur.Remaining++
	m.byID[inv.ID] = cur
	return nil
}

func (m *memInvites) get(code string) (models.Invite, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[code]
	return inv, ok
}

var errBoom = errors.New("boom")
