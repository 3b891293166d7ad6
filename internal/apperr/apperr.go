// Package apperr defines the error kinds surfaced across the storage engine,
// ingestion pipeline, aggregation engine, and ML supervisor, and the mapping
// from a kind to the RPC envelope.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for RPC-envelope and retry-policy purposes.
type Kind int

const (
	// KindInternal is the catch-all for faults that don't map to a more
	// specific kind.
	KindInternal Kind = iota
	// KindNotFound is returned when a study, media, or observation id does
	// not exist, or a manifest entry is missing.
	KindNotFound
	// KindInvalidInput is returned when a structural validator rejects a
	// value, a timestamp is malformed, or a year is out of range.
	KindInvalidInput
	// KindConstraintViolation is returned on a foreign-key, uniqueness, or
	// NOT NULL violation.
	KindConstraintViolation
	// KindIOFailure is returned on a disk write, network fetch, or archive
	// extraction failure.
	KindIOFailure
	// KindParse is returned on malformed source data during ingestion.
	KindParse
	// KindStateConflict is returned on a writer/reader mismatch, a stale
	// handle, or import-mode misuse.
	KindStateConflict
	// KindTimeout is returned when a health poll or HTTP shutdown exhausts
	// its budget.
	KindTimeout
	// KindCancelled is returned on user or supervisor cancellation.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindConstraintViolation:
		return "constraint_violation"
	case KindIOFailure:
		return "io_failure"
	case KindParse:
		return "parse"
	case KindStateConflict:
		return "state_conflict"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is the typed error carried across every component boundary.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err is
// nil or not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
