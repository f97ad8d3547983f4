package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind int

const (
	// KindValidation: caller input violates an invariant. Never retried.
	KindValidation Kind = iota + 1
	// KindConflict: state machine violation. Caller must refetch state.
	KindConflict
	// KindLockConflict: another assessor holds the assessment lock.
	KindLockConflict
	// KindForbidden: role or ownership check failed.
	KindForbidden
	// KindNotFound: referenced entity absent.
	KindNotFound
	// KindTransient: lost optimistic-lock race or similar. Safe to retry
	// once with fresh state.
	KindTransient
)

// Error is the single error type crossing service boundaries. Code is a
// machine-readable reason code, Entity/Field locate the offending input.
type Error struct {
	Kind   Kind
	Code   string
	Entity string
	Field  string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a validation error with a reason code.
func Validation(code, entity, field, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Entity: entity, Field: field, Msg: msg}
}

// Conflict builds a state-conflict error.
func Conflict(code, entity, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Entity: entity, Msg: msg}
}

// LockConflict signals that another assessor holds the lock. The
// competing assessor's identity is deliberately not part of the error.
func LockConflict() *Error {
	return &Error{Kind: KindLockConflict, Code: "ASSESSMENT_LOCKED", Entity: "result",
		Msg: "submission is being assessed by another tutor"}
}

// Forbidden builds an access error without leaking resource details.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Code: "ACCESS_FORBIDDEN", Msg: msg}
}

// NotFound builds a missing-entity error.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Entity: entity}
}

// Transient wraps a storage race that is worth one retry with fresh state.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Code: "TRANSIENT_STORAGE", Err: err}
}

// KindOf extracts the Kind from err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
