// Package reconcile maps a verified identity (a federated assertion or a
// local password check) onto exactly one user record.
//
// The reconciler never guesses: several distinct users matching one
// assertion is an error, a federated login never creates an account, and an
// account is only created against a usable invite. All failures are
// *autherr.Error values.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/store/invites"
	userstore "github.com/dalemusser/fieldauth/internal/app/store/users"
	"github.com/dalemusser/fieldauth/internal/app/system/autherr"
	"github.com/dalemusser/fieldauth/internal/app/system/htmlsanitize"
	"github.com/dalemusser/fieldauth/internal/app/system/normalize"
	"github.com/dalemusser/fieldauth/internal/app/system/passwords"
	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxSaveAttempts bounds re-read and re-apply cycles on revision conflicts.
const maxSaveAttempts = 3

// Users is the directory the reconciler reads and writes.
type Users interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIdentifier(ctx context.Context, ident string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	Save(ctx context.Context, u *models.User) error
}

// Invites is the ledger the reconciler redeems against.
type Invites interface {
	Get(ctx context.Context, code string) (*models.Invite, error)
	Consume(ctx context.Context, code string, now time.Time) (*models.Invite, error)
	Release(ctx context.Context, inv *models.Invite) error
}

// Config configures a Reconciler.
type Config struct {
	Users   Users
	Invites Invites
	Log     *zap.Logger
	// PasswordIterations is the PBKDF2 cost for new local credentials.
	PasswordIterations int
	Now                func() time.Time
}

// Reconciler is safe for concurrent use.
type Reconciler struct {
	users      Users
	invites    Invites
	log        *zap.Logger
	iterations int
	now        func() time.Time

	dummyOnce sync.Once
	dummy     models.LocalCredential
}

// Result describes a successful reconciliation.
type Result struct {
	User *models.User
	// Created is set when the user record was created by this call.
	Created bool
	// Linked is set when a provider profile was newly attached.
	Linked bool
	// InviteID is the invite consumed by this call, if any.
	InviteID string
}

// New builds a Reconciler.
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		users:      cfg.Users,
		invites:    cfg.Invites,
		log:        cfg.Log,
		iterations: cfg.PasswordIterations,
		now:        cfg.Now,
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.iterations <= 0 {
		r.iterations = passwords.DefaultIterations
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

/*─────────────────────────────────────────────────────────────────────────────*
| Federated                                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

// ReconcileFederated resolves a verified provider assertion for the action
// the browser declared when it left for the provider.
func (r *Reconciler) ReconcileFederated(ctx context.Context, intent models.SessionIntent, a *providers.Assertion) (*Result, error) {
	action := models.NormalizeAction(intent.Action)
	if action == "" {
		return nil, autherr.New(autherr.MissingAction)
	}
	if action == models.ActionRegister && strings.TrimSpace(intent.InviteID) == "" {
		return nil, autherr.New(autherr.UnauthorizedRegistration)
	}
	if a == nil {
		return nil, autherr.Wrap(errors.New("nil assertion"), "reconcile")
	}

	candidates := CandidateEmails(a)
	if len(candidates) == 0 {
		return nil, autherr.New(autherr.NoVerifiedEmail)
	}

	matched, err := r.resolve(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if len(matched) > 1 {
		r.log.Warn("reconcile: assertion matches several users",
			zap.String("provider", a.Provider),
			zap.Strings("emails", candidates))
		return nil, autherr.New(autherr.AmbiguousIdentity)
	}

	switch {
	case action == models.ActionLogin && len(matched) == 0:
		return nil, autherr.New(autherr.NoSuchAccount)

	case len(matched) == 1:
		// Login, or register for an account that already exists. Register
		// here is an implicit login: the invite is left untouched.
		addEmails := action == models.ActionRegister
		return r.linkExisting(ctx, matched[0], a, candidates, addEmails)

	default:
		return r.registerFederated(ctx, intent.InviteID, a, candidates)
	}
}

// CandidateEmails returns the folded, de-duplicated addresses the reconciler
// may match on. Google reports verification per address; the other
// families are trusted to assert only addresses they own.
func CandidateEmails(a *providers.Assertion) []string {
	seen := make(map[string]bool, len(a.Emails))
	var out []string
	for _, e := range a.Emails {
		if a.Family == providers.FamilyGoogle && !e.Verified {
			continue
		}
		addr := normalize.Email(e.Address)
		if addr == "" || !strings.Contains(addr, "@") || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// resolve looks every candidate up concurrently and returns the distinct
// users found, ordered by first matching candidate.
func (r *Reconciler) resolve(ctx context.Context, candidates []string) ([]*models.User, error) {
	found := make([]*models.User, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range candidates {
		i, addr := i, addr
		g.Go(func() error {
			u, err := r.users.GetByEmail(gctx, addr)
			if errors.Is(err, userstore.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, autherr.Wrap(err, "look up candidate emails")
	}

	seen := make(map[string]bool)
	var out []*models.User
	for _, u := range found {
		if u == nil || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, u)
	}
	return out, nil
}

func (r *Reconciler) linkExisting(ctx context.Context, u *models.User, a *providers.Assertion, candidates []string, addEmails bool) (*Result, error) {
	res := &Result{}
	saved, err := r.mutate(ctx, u, func(u *models.User) bool {
		// Re-run after a conflict against a fresh read; only the last run counts.
		res.Linked = false
		changed := false
		if u.LinkProfile(a.Provider, profileOf(a)) {
			res.Linked = true
			changed = true
		}
		if addEmails {
			for _, addr := range candidates {
				if u.AddEmail(addr, true) {
					changed = true
				}
			}
		}
		if u.Name == "" {
			if name := displayName(a.Name, candidates[0]); name != "" {
				u.Name = name
				changed = true
			}
		}
		return changed
	})
	if err != nil {
		if errors.Is(err, userstore.ErrDuplicate) {
			// Another user took one of the added emails since we resolved.
			return nil, autherr.New(autherr.AmbiguousIdentity)
		}
		return nil, err
	}
	res.User = saved
	return res, nil
}

func (r *Reconciler) registerFederated(ctx context.Context, code string, a *providers.Assertion, candidates []string) (*Result, error) {
	inv, err := r.usableInvite(ctx, code)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		ID:   candidates[0],
		Name: displayName(a.Name, candidates[0]),
	}
	for _, addr := range candidates {
		u.AddEmail(addr, true)
	}
	u.LinkProfile(a.Provider, profileOf(a))
	u.GrantResourceRole(inv.ResourceID, inv.Role)

	if err := r.createWithInvite(ctx, u, inv.ID); err != nil {
		if errors.Is(err, userstore.ErrDuplicate) {
			return nil, autherr.New(autherr.AmbiguousIdentity)
		}
		return nil, err
	}
	return &Result{User: u, Created: true, Linked: true, InviteID: inv.ID}, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Local                                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

// AuthenticateLocal checks a password against the local profile of the user
// named by identifier (a username or an email). Every failure reads the
// same so accounts cannot be enumerated.
func (r *Reconciler) AuthenticateLocal(ctx context.Context, identifier, password string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, autherr.New(autherr.InvalidCredentials)
	}

	u, err := r.users.GetByIdentifier(ctx, identifier)
	if err != nil && !errors.Is(err, userstore.ErrNotFound) {
		return nil, autherr.Wrap(err, "look up local user")
	}

	var cred models.LocalCredential
	ok := false
	if u != nil {
		cred, ok = u.LocalCredential()
	}
	if !ok {
		// Spend the same hashing time as a real check.
		passwords.Check(password, r.dummyCredential())
		return nil, autherr.New(autherr.InvalidCredentials)
	}
	if !passwords.Check(password, cred) {
		return nil, autherr.New(autherr.InvalidCredentials)
	}
	return u, nil
}

// LocalRegistration is a validated local sign-up.
type LocalRegistration struct {
	Email    string
	Name     string
	Password string
	InviteID string
}

// RegisterLocal creates a password account against an invite. The new
// address stays unverified until the user follows a verification link.
func (r *Reconciler) RegisterLocal(ctx context.Context, reg LocalRegistration) (*Result, error) {
	if strings.TrimSpace(reg.InviteID) == "" {
		return nil, autherr.New(autherr.UnauthorizedRegistration)
	}
	email := normalize.Email(reg.Email)
	if email == "" {
		return nil, autherr.Invalid(map[string]string{"email": "Email is required."})
	}

	if exists, err := r.accountExists(ctx, email); err != nil {
		return nil, err
	} else if exists {
		return nil, autherr.New(autherr.AccountExists)
	}

	inv, err := r.usableInvite(ctx, reg.InviteID)
	if err != nil {
		return nil, err
	}

	cred, err := passwords.Hash(reg.Password, r.iterations)
	if err != nil {
		if errors.Is(err, passwords.ErrEmpty) {
			return nil, autherr.Invalid(map[string]string{"password": "Password is required."})
		}
		return nil, autherr.Wrap(err, "hash password")
	}

	u := &models.User{
		ID:   email,
		Name: displayName(reg.Name, email),
	}
	u.AddEmail(email, false)
	u.SetLocalCredential(cred)
	u.GrantResourceRole(inv.ResourceID, inv.Role)

	if err := r.createWithInvite(ctx, u, inv.ID); err != nil {
		if errors.Is(err, userstore.ErrDuplicate) {
			return nil, autherr.New(autherr.AccountExists)
		}
		return nil, err
	}
	return &Result{User: u, Created: true, Linked: true, InviteID: inv.ID}, nil
}

func (r *Reconciler) accountExists(ctx context.Context, email string) (bool, error) {
	for _, lookup := range []func(context.Context, string) (*models.User, error){r.users.GetByEmail, r.users.GetByID} {
		_, err := lookup(ctx, email)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, userstore.ErrNotFound) {
			return false, autherr.Wrap(err, "look up email")
		}
	}
	return false, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Account maintenance                                                         |
*─────────────────────────────────────────────────────────────────────────────*/

// MarkEmailVerified flags email as verified on userID's record.
func (r *Reconciler) MarkEmailVerified(ctx context.Context, userID, email string) (*models.User, error) {
	u, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	email = normalize.Email(email)
	if !u.HasEmail(email) {
		return nil, autherr.Newf(autherr.Validation, "That email address is no longer on the account.")
	}
	return r.mutate(ctx, u, func(u *models.User) bool {
		return u.AddEmail(email, true)
	})
}

// SetPassword replaces userID's local credential with a fresh salt and hash.
func (r *Reconciler) SetPassword(ctx context.Context, userID, password string) (*models.User, error) {
	cred, err := passwords.Hash(password, r.iterations)
	if err != nil {
		if errors.Is(err, passwords.ErrEmpty) {
			return nil, autherr.Invalid(map[string]string{"password": "Password is required."})
		}
		return nil, autherr.Wrap(err, "hash password")
	}
	u, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.mutate(ctx, u, func(u *models.User) bool {
		u.SetLocalCredential(cred)
		return true
	})
}

func (r *Reconciler) load(ctx context.Context, userID string) (*models.User, error) {
	u, err := r.users.GetByID(ctx, userID)
	if errors.Is(err, userstore.ErrNotFound) {
		return nil, autherr.New(autherr.NoSuchAccount)
	}
	if err != nil {
		return nil, autherr.Wrap(err, "load user")
	}
	return u, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Shared steps                                                                |
*─────────────────────────────────────────────────────────────────────────────*/

// usableInvite loads code and checks it can still be redeemed.
func (r *Reconciler) usableInvite(ctx context.Context, code string) (*models.Invite, error) {
	inv, err := r.invites.Get(ctx, code)
	if err != nil {
		return nil, inviteErr(err)
	}
	if !inv.Usable(r.now()) {
		return nil, autherr.New(autherr.InviteExpiredOrInvalid)
	}
	return inv, nil
}

// createWithInvite redeems code and then inserts u. When the insert fails
// the redeemed use is handed back so the ledger matches the directory.
func (r *Reconciler) createWithInvite(ctx context.Context, u *models.User, code string) error {
	consumed, err := r.invites.Consume(ctx, code, r.now())
	if err != nil {
		return inviteErr(err)
	}

	err = r.users.Create(ctx, u)
	if err == nil {
		return nil
	}
	if relErr := r.invites.Release(ctx, consumed); relErr != nil {
		r.log.Error("reconcile: could not return invite use",
			zap.String("invite_id", code),
			zap.Error(relErr))
	}
	if errors.Is(err, userstore.ErrDuplicate) {
		return err
	}
	return autherr.Wrap(err, "create user")
}

// mutate applies change to u and saves it, re-reading and re-applying on
// revision conflicts. change reports whether it modified the record; an
// unchanged record is not written.
func (r *Reconciler) mutate(ctx context.Context, u *models.User, change func(*models.User) bool) (*models.User, error) {
	for attempt := 1; ; attempt++ {
		if !change(u) {
			return u, nil
		}
		err := r.users.Save(ctx, u)
		if err == nil {
			return u, nil
		}
		if errors.Is(err, userstore.ErrDuplicate) {
			return nil, err
		}
		if !errors.Is(err, userstore.ErrConflict) {
			return nil, autherr.Wrap(err, "save user")
		}
		if attempt >= maxSaveAttempts {
			return nil, autherr.Wrap(err, "save user")
		}
		r.log.Debug("reconcile: revision conflict, retrying",
			zap.String("user_id", u.ID),
			zap.Int("attempt", attempt))
		if u, err = r.load(ctx, u.ID); err != nil {
			return nil, err
		}
	}
}

func (r *Reconciler) dummyCredential() models.LocalCredential {
	r.dummyOnce.Do(func() {
		c, err := passwords.Hash("fieldauth-timing-equalizer", r.iterations)
		if err == nil {
			r.dummy = c
		}
	})
	return r.dummy
}

func inviteErr(err error) error {
	switch {
	case errors.Is(err, invites.ErrNotFound):
		return autherr.New(autherr.InviteNotFound)
	case errors.Is(err, invites.ErrExhausted):
		return autherr.New(autherr.InviteExpiredOrInvalid)
	default:
		return autherr.Wrap(err, "redeem invite")
	}
}

func profileOf(a *providers.Assertion) models.Profile {
	p := models.Profile{}
	for k, v := range a.Profile {
		p[k] = v
	}
	if a.Subject != "" {
		p["sub"] = a.Subject
	}
	p["family"] = string(a.Family)
	return p
}

// displayName sanitizes a provider-asserted name, falling back to the local
// part of the email.
func displayName(asserted, email string) string {
	name := normalize.Name(htmlsanitize.PlainText(asserted))
	if name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}
