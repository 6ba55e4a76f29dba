// Package queue persists failed or offline mutations in FIFO order and
// replays them when connectivity returns.
package queue

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"offsync-go/internal/transport"
)

// Status is the lifecycle state of a queued entry.
type Status string

const (
	// StatusPending entries await replay in seq order.
	StatusPending Status = "pending"
	// StatusInFlight marks the entry currently being replayed.
	StatusInFlight Status = "in_flight"
	// StatusDeadLetter entries exhausted their attempts or failed
	// non-retryably; they are kept for inspection, never replayed.
	StatusDeadLetter Status = "dead_letter"
)

// Entry is one durable queued request. Seq is assigned by the store on
// append and establishes the replay order; ID is stable across restarts
// and is what callers use to cancel.
type Entry struct {
	Seq            int64             `json:"seq"`
	ID             string            `json:"id"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Body           []byte            `json:"body,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	EnqueuedAt     time.Time         `json:"enqueued_at"`
	Attempts       int               `json:"attempts"`
	LastError      string            `json:"last_error,omitempty"`
	DeadReason     string            `json:"dead_reason,omitempty"`
	Status         Status            `json:"status"`
}

// Request rebuilds the transport request this entry was created from,
// including the idempotency key assigned at enqueue time so replays are
// deduplicated server-side.
func (e *Entry) Request() *transport.Request {
	return &transport.Request{
		Method:         e.Method,
		Path:           e.Path,
		Body:           e.Body,
		Headers:        e.Headers,
		IdempotencyKey: e.IdempotencyKey,
	}
}

// Summary renders a short human-readable description for logs and the
// diagnostics endpoints. It peeks into JSON bodies for a recognizable
// field rather than dumping the payload.
func (e *Entry) Summary() string {
	base := fmt.Sprintf("%s %s", e.Method, e.Path)
	if len(e.Body) == 0 {
		return base
	}
	for _, field := range []string{"title", "name", "id"} {
		if v := gjson.GetBytes(e.Body, field); v.Exists() {
			return fmt.Sprintf("%s (%s=%s)", base, field, v.String())
		}
	}
	return fmt.Sprintf("%s (%d byte body)", base, len(e.Body))
}

// Stats is a point-in-time view of queue occupancy.
type Stats struct {
	Pending     int `json:"pending"`
	DeadLetters int `json:"dead_letters"`
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Replayed     int    `json:"replayed"`
	DeadLettered int    `json:"dead_lettered"`
	Remaining    int    `json:"remaining"`
	Halted       bool   `json:"halted"`
	HaltReason   string `json:"halt_reason,omitempty"`
}
