// Package apperr classifies failures so callers can tell terminal errors from
// ones that are safe to retry.
package apperr

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Kind is the failure class of an Error
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindValidation
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.ErrNotFound) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons
var (
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrTransient    = &Error{Kind: KindTransient}
)

func Unauthorized(op, msg string) error { return &Error{Kind: KindUnauthorized, Op: op, Message: msg} }
func Forbidden(op, msg string) error    { return &Error{Kind: KindForbidden, Op: op, Message: msg} }
func NotFound(op, msg string) error     { return &Error{Kind: KindNotFound, Op: op, Message: msg} }
func Conflict(op, msg string) error     { return &Error{Kind: KindConflict, Op: op, Message: msg} }
func Validation(op, msg string) error   { return &Error{Kind: KindValidation, Op: op, Message: msg} }

// FromStore wraps an error returned by gorm. Missing rows become NotFound,
// unique violations Conflict, and everything else Transient.
func FromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Error{Kind: KindNotFound, Op: op, Message: "resource not found", Err: err}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &Error{Kind: KindConflict, Op: op, Message: "resource already exists", Err: err}
	default:
		return &Error{Kind: KindTransient, Op: op, Message: "store unavailable", Err: err}
	}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Retryable reports whether the whole call may be retried safely
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// MessageOf returns the client-facing message of err
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "An unexpected error occurred"
}
