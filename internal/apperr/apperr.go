// Package apperr defines the error kinds shared by the schedule and booking
// services and the wire body used to carry them between processes.
package apperr

import (
	"errors"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindUnavailable  Kind = "unavailable"
)

// Error is a classified failure. Two errors match under errors.Is when kind and
// code are equal, so sentinels survive being re-created on the far side of a
// remote call.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func InvalidState(code, message string) *Error {
	return New(KindInvalidState, code, message)
}

// Unavailable reports a collaborator that could not be reached or timed out.
func Unavailable(code, message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: message, Err: cause}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Body is the JSON error envelope written by the HTTP layer and decoded by the
// remote clients.
type Body struct {
	Error   string `json:"error"`
	Kind    Kind   `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// FromBody rebuilds a typed error from a decoded envelope.
func FromBody(b Body) *Error {
	kind := b.Kind
	if kind == "" {
		kind = KindUnavailable
	}
	msg := b.Details
	if msg == "" {
		msg = b.Error
	}
	return New(kind, b.Error, msg)
}
