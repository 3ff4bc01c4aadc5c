// internal/domain/models/invite.go
package models

import "time"

// Invite grants Role on ResourceID to whoever redeems the code.
//
// Remaining counts the uses left; zero means unlimited. A limited invite is
// deleted by the use that would bring Remaining to zero, so a stored limited
// invite always has Remaining >= 1.
type Invite struct {
	ID         string     `bson:"_id" json:"id"`
	ResourceID string     `bson:"resource_id" json:"resourceId"`
	Role       string     `bson:"role" json:"role"`
	Remaining  int        `bson:"remaining" json:"remaining"`
	CreatedBy  string     `bson:"created_by,omitempty" json:"createdBy,omitempty"`
	ExpiresAt  *time.Time `bson:"expires_at,omitempty" json:"expiresAt,omitempty"`
	Rev        int64      `bson:"rev" json:"-"`
	CreatedAt  time.Time  `bson:"created_at" json:"createdAt"`
}

// Unlimited reports whether the invite can be redeemed any number of times.
func (i *Invite) Unlimited() bool { return i.Remaining == 0 }

// Usable reports whether the invite can still be redeemed at now.
func (i *Invite) Usable(now time.Time) bool {
	if i.Remaining < 0 {
		return false
	}
	if i.ExpiresAt != nil && !now.Before(*i.ExpiresAt) {
		return false
	}
	return true
}
