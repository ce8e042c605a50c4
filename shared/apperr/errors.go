// Package apperr is the error taxonomy shared by every service.
//
// Operations return *Error values tagged with a Kind; callers switch on
// KindOf(err) instead of comparing message strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidAmount         Kind = "INVALID_AMOUNT"
	KindSameAccount           Kind = "SAME_ACCOUNT"
	KindValidation            Kind = "VALIDATION"
	KindNotFound              Kind = "NOT_FOUND"
	KindInsufficientFunds     Kind = "INSUFFICIENT_FUNDS"
	KindInvalidState          Kind = "INVALID_STATE"
	KindConflict              Kind = "CONFLICT"
	KindDownstreamError       Kind = "DOWNSTREAM_ERROR"
	KindDownstreamUnavailable Kind = "DOWNSTREAM_UNAVAILABLE"
	KindInternal              Kind = "INTERNAL"
)

// Error is a classified failure. Err, when set, is the underlying cause.
//
// OutcomeUnknown is only meaningful for downstream failures: it is true when
// the request may have reached the other side before the failure, so the
// remote effect cannot be ruled out.
type Error struct {
	Kind           Kind
	Message        string
	Err            error
	OutcomeUnknown bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Internal wraps an unclassified error. A nil err yields nil.
func Internal(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsOutcomeUnknown reports whether a downstream call may have taken effect remotely.
func IsOutcomeUnknown(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.OutcomeUnknown
	}
	return false
}

// MessageOf returns the classified message without the wrapped cause.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to the status code used on every service's API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidAmount, KindSameAccount, KindValidation, KindDownstreamError:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindDownstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
