package authority

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match with errors.Is and map to transport codes with Code.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrDuplicateAccount   = errors.New("duplicate account")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrReuseDetected      = errors.New("refresh token reuse detected")
	ErrSessionNotFound    = errors.New("session not found")
	ErrForbidden          = errors.New("forbidden")

	// ErrAccessTokenExpired is also ErrUnauthenticated. Clients react to it by refreshing.
	ErrAccessTokenExpired = fmt.Errorf("access token expired: %w", ErrUnauthenticated)
)

// Error is an operation error with a stable Kind and a message safe to show.
type Error struct {
	Op   string
	Kind error
	Msg  string
}

func (e Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e Error) Unwrap() error { return e.Kind }

func fail(op string, kind error, msg string) error {
	return Error{Op: op, Kind: kind, Msg: msg}
}

// Message returns the human-readable message of an authority error, or a
// generic one for anything else.
func Message(err error) string {
	var e Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccessTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrReuseDetected):
		return "reuse_detected"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrDuplicateAccount):
		return "duplicate_account"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
