// Package sqlerr provides a typed error taxonomy for the storage and
// coordination engine, replacing ad hoc raw SQL error matching with
// explicit, inspectable kinds.
package sqlerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for propagation-policy decisions: which
// kinds return to the caller verbatim, which abort an operation, and which
// abort the whole process.
type Kind int

const (
	// KindValidation covers malformed JSON, unknown enum values, missing
	// required fields, out-of-range config, and cyclic/self dependencies.
	// Always surfaced to the caller; never retried.
	KindValidation Kind = iota
	// KindNotFound covers unseeded layers/categories, nonexistent decision
	// keys, and nonexistent tasks. Surfaced verbatim.
	KindNotFound
	// KindConflict covers unique violations (surfaced as a domain message)
	// and foreign-key violations (a programmer bug, treated as fatal by
	// callers that choose to).
	KindConflict
	// KindSchemaMismatch is raised when startup integrity verification
	// finds missing tables or columns; views are not checked. Aborts the
	// process.
	KindSchemaMismatch
	// KindFallback signals that a remote backend returned a code the
	// dispatcher should retry locally (UNSUPPORTED_TOOL, LOCAL_ONLY_ACTION).
	KindFallback
	// KindTransient covers file-watch glitches, queue-parse errors, and
	// lock-file corruption — all of which are handled by treating the
	// resource as empty/absent and continuing, not by failing the caller.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindFallback:
		return "fallback"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is the engine's typed error. Field carries the offending field or
// table name where applicable (e.g. a JSON shape violation names the
// field; a schema mismatch names the table).
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is supports errors.Is(err, sqlerr.KindNotFound) style matching via a
// sentinel wrapper; most callers should use As + Kind comparison instead.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newf(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

func Validation(field, format string, args ...any) *Error {
	return newf(KindValidation, field, format, args...)
}

func NotFound(field, format string, args ...any) *Error {
	return newf(KindNotFound, field, format, args...)
}

func Conflict(field, format string, args ...any) *Error {
	return newf(KindConflict, field, format, args...)
}

func SchemaMismatch(format string, args ...any) *Error {
	return newf(KindSchemaMismatch, "", format, args...)
}

func Fallback(format string, args ...any) *Error {
	return newf(KindFallback, "", format, args...)
}

func Transient(format string, args ...any) *Error {
	return newf(KindTransient, "", format, args...)
}

// Wrap attaches kind and message to an underlying error, keeping it
// reachable via errors.Unwrap.
func Wrap(kind Kind, field string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// OfKind reports whether err is an *Error of the given kind, anywhere in
// its unwrap chain.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// BatchError aggregates per-item validation errors produced by the batch
// executor: one entry per offending item, indexed as presented to
// the caller.
type BatchError struct {
	Items []ItemError
}

// ItemError is a single item's failure within a batch, keeping the index
// the caller originally submitted it at.
type ItemError struct {
	Index int
	Err   error
}

func (b *BatchError) Error() string {
	msg := fmt.Sprintf("%d item(s) failed validation:", len(b.Items))
	for _, it := range b.Items {
		msg += fmt.Sprintf("\n  Item %d: %s", it.Index, it.Err.Error())
	}
	return msg
}

func (b *BatchError) Unwrap() []error {
	errs := make([]error, len(b.Items))
	for i, it := range b.Items {
		errs[i] = it.Err
	}
	return errs
}
