package domain

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindValidation             Kind = "validation_failed"
	KindConflict               Kind = "scheduling_conflict"
	KindCapacity               Kind = "capacity_exceeded"
	KindLedgerState            Kind = "ledger_state_error"
	KindConcurrentModification Kind = "concurrent_modification"
	KindForbidden              Kind = "forbidden"
)

// Error is a typed, user-presentable failure.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrCapacityExceeded       = &Error{Kind: KindCapacity}
	ErrLedgerState            = &Error{Kind: KindLedgerState}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
	ErrForbidden              = &Error{Kind: KindForbidden}
)

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can test against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// InvalidFields carries per-field messages, as produced by request validation.
func InvalidFields(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func CapacityExceeded(format string, args ...any) *Error {
	return &Error{Kind: KindCapacity, Message: fmt.Sprintf(format, args...)}
}

func LedgerState(format string, args ...any) *Error {
	return &Error{Kind: KindLedgerState, Message: fmt.Sprintf(format, args...)}
}

func ConcurrentModification(entity, id string) *Error {
	return &Error{Kind: KindConcurrentModification, Message: fmt.Sprintf("%s %q was modified concurrently", entity, id)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in the chain, or "" for untyped errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
