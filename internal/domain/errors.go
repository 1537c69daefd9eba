package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the engine and its collaborators.
type Kind string

const (
	KindUnknown                Kind = "UNKNOWN"
	KindPermissionDenied       Kind = "PERMISSION_DENIED"
	KindValidation             Kind = "VALIDATION"
	KindNotFound               Kind = "NOT_FOUND"
	KindTransport              Kind = "TRANSPORT"
	KindDeliveryFormatRejected Kind = "DELIVERY_FORMAT_REJECTED"
	KindStore                  Kind = "STORE"
)

// Sentinels for errors.Is checks against a Kind.
var (
	ErrPermissionDenied       = kindError(KindPermissionDenied)
	ErrValidation             = kindError(KindValidation)
	ErrNotFound               = kindError(KindNotFound)
	ErrTransport              = kindError(KindTransport)
	ErrDeliveryFormatRejected = kindError(KindDeliveryFormatRejected)
	ErrStore                  = kindError(KindStore)
)

type sentinel struct {
	kind Kind
}

func kindError(kind Kind) error {
	return &sentinel{kind: kind}
}

func (s *sentinel) Error() string {
	return string(s.kind)
}

// Error is a classified failure with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps cause with a kind and operation name.
func NewError(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

// Code returns the error kind as a string code.
func (e *Error) Code() string {
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels so callers can use errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	s, ok := target.(*sentinel)
	return ok && s.kind == e.Kind
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind
	}
	return KindUnknown
}
