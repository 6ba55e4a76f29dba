// Package apierr defines the typed error taxonomy shared by the transport,
// queue and repository layers. The Kind of an error decides whether the
// durable queue retries it.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindNetwork covers transient transport-level failures (timeout, DNS,
	// connection refused). The queue treats these as retryable.
	KindNetwork Kind = "network"
	// KindAuth means credentials are invalid and a refresh did not help.
	// The caller must re-authenticate; the queue never retries these.
	KindAuth Kind = "auth"
	// KindClient is a 4xx response: the request itself is invalid.
	KindClient Kind = "client"
	// KindServer is a 5xx response. Retryable only for idempotent methods
	// when configuration opts in.
	KindServer Kind = "server"
	// KindStorage is a local persistence failure.
	KindStorage Kind = "storage"
)

// Error is the standard error type surfaced by the offline core.
type Error struct {
	Kind    Kind
	Status  int // HTTP status, 0 for network/storage errors
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s error (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the queue may replay a request that failed
// with this error. Only network failures are unconditionally retryable;
// idempotent 5xx handling is decided by the queue, not here.
func (e *Error) Retryable() bool { return e.Kind == KindNetwork }

// Network builds a transient transport error.
func Network(code, message string, err error) *Error {
	return &Error{Kind: KindNetwork, Code: code, Message: message, Err: err}
}

// Auth builds an authentication error carrying the triggering status.
func Auth(status int, message string) *Error {
	return &Error{Kind: KindAuth, Status: status, Code: "authentication_error", Message: message}
}

// Client builds a 4xx error.
func Client(status int, code, message string) *Error {
	return &Error{Kind: KindClient, Status: status, Code: code, Message: message}
}

// Server builds a 5xx error.
func Server(status int, code, message string) *Error {
	return &Error{Kind: KindServer, Status: status, Code: code, Message: message}
}

// Storage wraps a persistence-layer failure.
func Storage(message string, err error) *Error {
	return &Error{Kind: KindStorage, Code: "storage_error", Message: message, Err: err}
}

// Offline is the error returned for operations attempted while the
// connectivity monitor reports no reachability. It is a network error so
// callers can treat it uniformly with wire-level failures.
func Offline() *Error {
	return &Error{Kind: KindNetwork, Code: "offline", Message: "device is offline"}
}

// KindOf extracts the Kind from an error chain. ok is false when the
// chain contains no *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsNetwork reports whether err classifies as a transient network failure.
func IsNetwork(err error) bool { k, ok := KindOf(err); return ok && k == KindNetwork }

// IsAuth reports whether err requires re-authentication.
func IsAuth(err error) bool { k, ok := KindOf(err); return ok && k == KindAuth }

// IsStorage reports whether err is a local persistence failure.
func IsStorage(err error) bool { k, ok := KindOf(err); return ok && k == KindStorage }

// CodeOf returns the machine-readable code attached to err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
