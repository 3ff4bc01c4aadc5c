// internal/domain/models/user.go
package models

import (
	"strings"
	"time"
)

// LocalProvider is the profile key holding the password credential.
const LocalProvider = "local"

// UserEmail is one address on a user record. Addresses are stored case-folded.
type UserEmail struct {
	Email    string `bson:"email" json:"email"`
	Verified bool   `bson:"verified" json:"verified"`
}

// ResourceRole grants Role on the resource identified by ResourceID.
type ResourceRole struct {
	ResourceID string `bson:"resource_id" json:"resourceId"`
	Role       string `bson:"role" json:"role"`
}

// Profile is the opaque per-provider identity document linked to a user.
type Profile map[string]any

// User is the canonical identity record.
//
// ID is the lower-cased username, or the lower-cased primary email for
// accounts created through registration. Rev is bumped on every save and
// guards read-modify-write cycles.
type User struct {
	ID            string             `bson:"_id" json:"id"`
	Name          string             `bson:"name" json:"name"`
	Emails        []UserEmail        `bson:"emails" json:"emails"`
	Profiles      map[string]Profile `bson:"profiles" json:"-"`
	GlobalRoles   []string           `bson:"global_roles" json:"globalRoles"`
	ResourceRoles []ResourceRole     `bson:"resource_roles" json:"resourceRoles"`
	Rev           int64              `bson:"rev" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// HasEmail reports whether addr (any case) is on the record.
func (u *User) HasEmail(addr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	for _, e := range u.Emails {
		if e.Email == addr {
			return true
		}
	}
	return false
}

// AddEmail appends addr if absent. An existing unverified entry is upgraded
// when verified is true. Returns true when the record changed.
func (u *User) AddEmail(addr string, verified bool) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return false
	}
	for i := range u.Emails {
		if u.Emails[i].Email == addr {
			if verified && !u.Emails[i].Verified {
				u.Emails[i].Verified = true
				return true
			}
			return false
		}
	}
	u.Emails = append(u.Emails, UserEmail{Email: addr, Verified: verified})
	return true
}

// PrimaryEmail returns the first address on the record, or "".
func (u *User) PrimaryEmail() string {
	if len(u.Emails) == 0 {
		return ""
	}
	return u.Emails[0].Email
}

// LinkProfile attaches p under provider unless a profile is already linked.
// Linking is idempotent: an existing entry is left untouched.
func (u *User) LinkProfile(provider string, p Profile) bool {
	if u.Profiles == nil {
		u.Profiles = make(map[string]Profile)
	}
	if _, ok := u.Profiles[provider]; ok {
		return false
	}
	if p == nil {
		p = Profile{}
	}
	u.Profiles[provider] = p
	return true
}

// HasProfile reports whether provider is linked.
func (u *User) HasProfile(provider string) bool {
	_, ok := u.Profiles[provider]
	return ok
}

// GrantResourceRole adds the (resource, role) pair if absent.
func (u *User) GrantResourceRole(resourceID, role string) bool {
	for _, rr := range u.ResourceRoles {
		if rr.ResourceID == resourceID && rr.Role == role {
			return false
		}
	}
	u.ResourceRoles = append(u.ResourceRoles, ResourceRole{ResourceID: resourceID, Role: role})
	return true
}

// LocalCredential is the password material stored in the local profile.
type LocalCredential struct {
	PasswordHash string
	Salt         string
	Iterations   int
}

// LocalCredential extracts the password material from the local profile.
// The second result is false when no usable local profile exists.
func (u *User) LocalCredential() (LocalCredential, bool) {
	p, ok := u.Profiles[LocalProvider]
	if !ok {
		return LocalCredential{}, false
	}
	hash, _ := p["password_hash"].(string)
	salt, _ := p["salt"].(string)
	iter := toInt(p["iterations"])
	if hash == "" || salt == "" || iter <= 0 {
		return LocalCredential{}, false
	}
	return LocalCredential{PasswordHash: hash, Salt: salt, Iterations: iter}, true
}

// SetLocalCredential replaces the local profile with c.
func (u *User) SetLocalCredential(c LocalCredential) {
	if u.Profiles == nil {
		u.Profiles = make(map[string]Profile)
	}
	u.Profiles[LocalProvider] = Profile{
		"password_hash": c.PasswordHash,
		"salt":          c.Salt,
		"iterations":    c.Iterations,
	}
}

// numbers decode from BSON as int32 or int64 depending on magnitude
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
