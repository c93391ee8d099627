// Package apierr defines the error kinds of the gateway: a small,
// closed set of HTTP-shaped errors that every subsystem returns instead of
// bare Go errors, so the HTTP edge can render `{error, message, ...context}`
// without string-sniffing.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Unauthorized Kind = "unauthorized"
	Forbidden    Kind = "forbidden"
	NotFound     Kind = "not-found"
	BadRequest   Kind = "bad-request"
	IllegalState Kind = "illegal-state"
	Conflict     Kind = "conflict"
	Internal     Kind = "internal"
)

var statusByKind = map[Kind]int{
	Unauthorized: http.StatusUnauthorized,
	Forbidden:    http.StatusForbidden,
	NotFound:     http.StatusNotFound,
	BadRequest:   http.StatusBadRequest,
	IllegalState: http.StatusConflict,
	Conflict:     http.StatusServiceUnavailable,
	Internal:     http.StatusInternalServerError,
}

// Error is the error type every component should return at its public
// boundary. It carries enough to render the JSON error shape directly.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for this error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/message context to an underlying error while keeping
// it unwrappable via errors.Is/errors.As.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithContext returns a copy of e with additional context fields merged in.
func (e *Error) WithContext(ctx map[string]interface{}) *Error {
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &Error{Kind: e.Kind, Message: e.Message, Context: merged, cause: e.cause}
}

// As is a convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}
