package domain

import (
	"errors"
	"fmt"
)

// Authority rejection codes surfaced through ConflictError.
const (
	CodeSlotTaken       = "SLOT_TAKEN"
	CodeSlotPast        = "SLOT_PAST"
	CodeCancelWindow    = "CANCEL_WINDOW"
	CodeAmountMismatch  = "AMOUNT_MISMATCH"
	CodeNotBooked       = "NOT_BOOKED"
	CodeAttemptInFlight = "ATTEMPT_IN_FLIGHT"
)

// ValidationError reports a missing or invalid required field. It is caught
// before any network or Authority call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConflictError reports a lost race or a stale precondition: slot already
// taken, slot already past, or an amount mismatch against the recomputed
// price. The UI should re-prompt, not retry blindly.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message == "" {
		return "conflict: " + e.Code
	}
	return fmt.Sprintf("conflict: %s: %s", e.Code, e.Message)
}

// AuthError reports that the caller identity does not match the
// authenticated principal.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Reason
}

// GatewayError reports a payment provider failure or user cancellation of
// the external checkout.
type GatewayError struct {
	Gateway   string
	Cancelled bool
	Message   string
}

func (e *GatewayError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("gateway %s: cancelled by user", e.Gateway)
	}
	return fmt.Sprintf("gateway %s: %s", e.Gateway, e.Message)
}

// NetworkError reports a transient transport failure. Non-idempotent
// operations are never auto-retried on it; the caller offers a manual retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UnknownError carries an unmapped server message verbatim.
type UnknownError struct {
	Code    string
	Message string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown error %s: %s", e.Code, e.Message)
}

// IsConflict reports whether err is a ConflictError, optionally with one of
// the given codes.
func IsConflict(err error, codes ...string) bool {
	var ce *ConflictError
	if !errors.As(err, &ce) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if ce.Code == c {
			return true
		}
	}
	return false
}
