// Package errs classifies failures surfaced by the upload and transfer
// services so that the HTTP layer can map them to response codes in one place.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the failure class of an Error.
type Kind int

const (
	// KindUnknown is reported for errors that were never classified.
	KindUnknown Kind = iota

	// KindInvalidInput is a request rejected before reaching the object store.
	KindInvalidInput

	// KindNotFound is an object or session the store does not know about.
	KindNotFound

	// KindUpstream is a failure reported by the object store itself.
	KindUpstream

	// KindUnauthorized is a request with a missing or invalid identity.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindNotFound:
		return "not found"
	case KindUpstream:
		return "upstream"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error carries the operation and object key a failure happened on.
type Error struct {
	// Op is the operation that failed (e.g. "initiate", "delete")
	Op string

	// Key is the object key, if any
	Key string

	Kind Kind

	// Message is a client facing description. When empty the wrapped
	// error's text is used.
	Message string

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Key, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Invalid returns a KindInvalidInput error.
func Invalid(op, key, message string) *Error {
	return &Error{Op: op, Key: key, Kind: KindInvalidInput, Message: message}
}

// Upstream wraps an object store failure.
func Upstream(op, key string, err error) *Error {
	return &Error{Op: op, Key: key, Kind: KindUpstream, Err: err}
}

// NotFound wraps a missing object or session.
func NotFound(op, key string, err error) *Error {
	return &Error{Op: op, Key: key, Kind: KindNotFound, Err: err}
}

// Unauthorized returns a KindUnauthorized error.
func Unauthorized(op, message string) *Error {
	return &Error{Op: op, Kind: KindUnauthorized, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsInvalidInput(err error) bool {
	return KindOf(err) == KindInvalidInput
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsUpstream(err error) bool {
	return KindOf(err) == KindUpstream
}

// HTTPStatus maps err to the status code used in the response envelope.
// Unclassified errors are reported as 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage returns the text shown to API clients for err.
func ClientMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" && e.Kind != KindUpstream {
		return e.Message
	}
	return err.Error()
}
