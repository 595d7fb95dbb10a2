package booking

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "VALIDATION_FAILED"
	KindInvalidTransition   Kind = "INVALID_STATE_TRANSITION"
	KindAlreadyAssigned     Kind = "ALREADY_ASSIGNED"
	KindPreconditionFailed  Kind = "PRECONDITION_FAILED"
	KindResourceUnavailable Kind = "RESOURCE_UNAVAILABLE"
	KindNotFound            Kind = "NOT_FOUND"
	KindForbidden           Kind = "FORBIDDEN"
	KindStoreUnavailable    Kind = "STORE_UNAVAILABLE"
	KindInternal            Kind = "INTERNAL"
)

// Error is the typed result of every failed lifecycle operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels: errors.Is(err, ErrAlreadyAssigned) holds for any
// *Error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrAlreadyAssigned     = &Error{Kind: KindAlreadyAssigned}
	ErrPreconditionFailed  = &Error{Kind: KindPreconditionFailed}
	ErrResourceUnavailable = &Error{Kind: KindResourceUnavailable}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable}
)

// ErrConditionFailed is returned by Store.Apply and Store.Insert when the row did not
// match the expected state. The manager reloads the row to explain why.
var ErrConditionFailed = errors.New("booking: conditional write matched no row")

// KindOf classifies any error returned by this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the operation unchanged.
// Only store outages qualify; every other kind is a definite answer.
func Retryable(err error) bool {
	return KindOf(err) == KindStoreUnavailable
}

func validationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func invalidTransition(from Status, action Action) error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf("cannot %s a booking that is %s", action, from)}
}

// Unavailable wraps a transient store failure.
func Unavailable(err error) error {
	return &Error{Kind: KindStoreUnavailable, Message: "booking store unavailable", Err: err}
}
