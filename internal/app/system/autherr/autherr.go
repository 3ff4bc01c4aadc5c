// Package autherr defines the failure taxonomy shared by identity
// reconciliation and the auth flow handlers.
//
// Every failure that can reach a user carries a Kind and a message that is
// safe to display. Internal failures keep the underlying error for logging
// and show a generic message.
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies an auth failure.
type Kind string

const (
	Validation               Kind = "validation"
	MissingAction            Kind = "missing_action"
	UnauthorizedRegistration Kind = "unauthorized_registration"
	InviteNotFound           Kind = "invite_not_found"
	InviteExpiredOrInvalid   Kind = "invite_expired_or_invalid"
	AmbiguousIdentity        Kind = "ambiguous_identity"
	NoSuchAccount            Kind = "no_such_account"
	NoVerifiedEmail          Kind = "no_verified_email"
	InvalidCredentials       Kind = "invalid_credentials"
	AccountExists            Kind = "account_exists"
	Internal                 Kind = "internal"
)

var defaultMessages = map[Kind]string{
	Validation:               "Please correct the highlighted fields.",
	MissingAction:            "Your sign-in session expired. Please try again.",
	UnauthorizedRegistration: "Registration requires an invitation.",
	InviteNotFound:           "That invitation could not be found.",
	InviteExpiredOrInvalid:   "That invitation has expired or has already been used.",
	AmbiguousIdentity:        "The email addresses on this account belong to more than one user. Please contact an administrator.",
	NoSuchAccount:            "No account matches this sign-in. Register with an invitation first.",
	NoVerifiedEmail:          "Your identity provider did not supply a verified email address.",
	InvalidCredentials:       "Invalid email or password.",
	AccountExists:            "An account with that email already exists. Please log in.",
	Internal:                 "A server error occurred. Please try again.",
}

// Error is an auth failure with a user-displayable message.
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field messages for Validation failures.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of kind k with the default message for k.
func New(k Kind) *Error {
	return &Error{Kind: k, Message: defaultMessages[k]}
}

// Newf returns an Error of kind k with a custom message.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Internal error carrying err.
func Wrap(err error, msg string) *Error {
	return &Error{Kind: Internal, Message: defaultMessages[Internal], Err: fmt.Errorf("%s: %w", msg, err)}
}

// Invalid returns a Validation error with per-field messages.
func Invalid(fields map[string]string) *Error {
	return &Error{Kind: Validation, Message: defaultMessages[Validation], Fields: fields}
}

// KindOf returns the Kind of err. Errors outside the taxonomy are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an auth failure of kind k.
func Is(err error, k Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == k
}

// Message returns the user-displayable message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return defaultMessages[Internal]
}

// UserFacing reports whether err should be shown back on the originating
// form rather than treated as a server failure.
func UserFacing(err error) bool {
	return err != nil && KindOf(err) != Internal
}
