// Package apierr defines Stratum's fixed error-kind vocabulary and its
// mapping to HTTP status codes, so every handler reports failures the
// same way (§7).
package apierr

import (
	"errors"
	"net/http"
)

// Kind is one of the fixed error categories in §7.
type Kind string

const (
	Validation      Kind = "validation"
	AuthRequired    Kind = "auth_required"
	BusUnavailable  Kind = "bus_unavailable"
	StoreUnavailable Kind = "store_unavailable"
	EmbeddingFailed Kind = "embedding_failed"
	LlmFailed       Kind = "llm_failed"
	NotFound        Kind = "not_found"
	RateLimited     Kind = "rate_limited"
	Internal        Kind = "internal"
)

// statusByKind is the fixed §7 mapping.
var statusByKind = map[Kind]int{
	Validation:       http.StatusBadRequest,
	AuthRequired:     http.StatusUnauthorized,
	BusUnavailable:   http.StatusServiceUnavailable,
	StoreUnavailable: http.StatusServiceUnavailable,
	EmbeddingFailed:  http.StatusBadGateway,
	LlmFailed:        http.StatusBadGateway,
	NotFound:         http.StatusNotFound,
	RateLimited:      http.StatusTooManyRequests,
	Internal:         http.StatusInternalServerError,
}

// Error carries a fixed Kind plus a human-readable message and an
// optional wrapped cause. Handlers map it to the HTTP response in §7;
// everything else collapses to Internal/500.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// StatusFor returns the fixed HTTP status for err. Any error that isn't
// an *Error maps to 500 (§7: unclassified failures are Internal).
func StatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if status, ok := statusByKind[e.Kind]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
