// Package errors carries the error taxonomy used across pontoon plus small
// helpers that stamp errors with the caller's file and line.
//
// Every rejected operation in the bridge maps to one of the Kind values so
// the transport layer can return a structured, actionable error to the
// client instead of an opaque string.
package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies an error into the bridge's taxonomy.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindDuplicateSession      Kind = "duplicate_session"
	KindInvalidMode           Kind = "invalid_mode"
	KindInvalidModel          Kind = "invalid_model"
	KindUnsupportedTransition Kind = "unsupported_transition"
	KindTurnAlreadyActive     Kind = "turn_already_active"
	KindReadOnlySession       Kind = "read_only_session"
	KindNoMatch               Kind = "no_match"
	KindPermissionDenied      Kind = "permission_denied"
	KindBackendError          Kind = "backend_error"
	KindClientOpFailed        Kind = "client_op_failed"
	KindClientOpCancelled     Kind = "client_op_cancelled"
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// NewKind creates a classified error with file and line number information.
func NewKind(kind Kind, format string, a ...interface{}) error {
	return &kindError{kind: kind, err: newAt(2, format, a...)}
}

// WithKind classifies an existing error. Returns nil if err is nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf returns the taxonomy kind of err, or the empty Kind when the error
// is nil or was never classified.
func KindOf(err error) Kind {
	var ke *kindError
	if stderrors.As(err, &ke) {
		return ke.kind
	}
	return ""
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return newAt(2, format, a...)
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	file, line := caller(2)
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

func newAt(skip int, format string, a ...interface{}) error {
	file, line := caller(skip + 1)
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

func caller(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???", 0
	}
	return filepath.Base(file), line
}
