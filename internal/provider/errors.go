package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures so callers can react differently to
// quota exhaustion than to generic transport errors.
type ErrorKind int

const (
	// KindNetwork covers transport failures and 5xx responses.
	KindNetwork ErrorKind = iota
	// KindRateLimited is a quota / 429 rejection.
	KindRateLimited
	// KindAuthFailure is a 401/403 rejection.
	KindAuthFailure
	// KindMalformed covers undecodable responses and invalid requests.
	KindMalformed
)

// String returns the kind's name for logging.
func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailure:
		return "auth_failure"
	case KindMalformed:
		return "malformed"
	default:
		return "network"
	}
}

// Error is a classified provider failure. The session manager surfaces
// KindRateLimited with a dedicated quota message and everything else with the
// raw message text.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError creates a classified provider error wrapping cause.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// AsError extracts a *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// classifyStatus maps an HTTP status code to an ErrorKind.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthFailure
	default:
		return KindNetwork
	}
}

// wrapTransport classifies err when no structured API error is available.
// Context cancellation passes through untouched so cooperative cancellation
// is never mistaken for a failure.
func wrapTransport(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewError(KindNetwork, err.Error(), err)
}
