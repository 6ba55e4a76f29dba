// Package transport sends authenticated HTTP requests to the backend,
// attaching the stored access token and transparently coalescing token
// refreshes when the server rejects it.
package transport

import "net/http"

// Request is a backend call described independently of net/http so the
// queue can persist and replay it byte-for-byte.
type Request struct {
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Body           []byte            `json:"body,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// Response is the successful outcome of a send.
type Response struct {
	Status  int
	Body    []byte
	Headers http.Header
}

// Mutating reports whether the method changes server state. Mutating
// requests get an Idempotency-Key header so replays after ambiguous
// failures are safe.
func Mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Idempotent reports whether the method may be retried against a 5xx
// without risking a duplicate side effect.
func Idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
