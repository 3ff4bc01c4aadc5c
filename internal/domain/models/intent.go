// internal/domain/models/intent.go
package models

import "time"

// Actions a SessionIntent can carry.
const (
	ActionLogin    = "login"
	ActionRegister = "register"
)

// SessionIntent is what the browser was trying to do when it left for a
// federated provider. It is created when the flow starts and consumed once
// when the provider calls back.
type SessionIntent struct {
	State     string    `bson:"_id"`
	Provider  string    `bson:"provider"`
	Action    string    `bson:"action"`
	InviteID  string    `bson:"invite_id,omitempty"`
	Redirect  string    `bson:"redirect"`
	RequestID string    `bson:"request_id,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// NormalizeAction maps free-form input onto a known action. Unknown values
// return "".
func NormalizeAction(s string) string {
	switch s {
	case ActionLogin, ActionRegister:
		return s
	default:
		return ""
	}
}
