package internal

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindConfiguration      ErrorKind = "configuration"
	KindExternalStore      ErrorKind = "external_store"
	KindDuplicateCollision ErrorKind = "duplicate_collision"
	KindInvalidTransition  ErrorKind = "invalid_transition"
	KindNotFound           ErrorKind = "not_found"
)

// Error is the structured failure carried through the pipeline in place of
// (ok, message) pairs. Row is the 1-based input row when the error concerns one.
type Error struct {
	Kind   ErrorKind
	Detail string
	Row    int
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Row > 0 {
		msg = fmt.Sprintf("%s (row %d)", msg, e.Row)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Detail == "" && t.Err == nil
}

func ValidationError(row int, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Row: row, Detail: fmt.Sprintf(format, args...)}
}

func ConfigurationWarning(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Detail: fmt.Sprintf(format, args...)}
}

func ExternalStoreError(op string, err error) *Error {
	return &Error{Kind: KindExternalStore, Detail: op, Err: err}
}

func DuplicateCollisionError(detail string) *Error {
	return &Error{Kind: KindDuplicateCollision, Detail: detail}
}

func InvalidTransitionError(from, to StagingStatus) *Error {
	return &Error{Kind: KindInvalidTransition, Detail: fmt.Sprintf("%s -> %s", from, to)}
}

func NotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
