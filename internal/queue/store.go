package queue

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when no entry matches the given seq.
var ErrNotFound = errors.New("queue entry not found")

// Store is the durable persistence layer beneath the queue manager.
// Implementations must survive process restart and preserve append
// order: Pending returns entries in ascending seq, which is the order
// they were appended.
type Store interface {
	// Initialize prepares the backing store (directories, schema,
	// indexes). Safe to call more than once.
	Initialize(ctx context.Context) error
	// Append assigns the next seq to entry, marks it pending and
	// persists it.
	Append(ctx context.Context, entry *Entry) error
	// Pending lists pending and in-flight entries in seq order.
	// In-flight entries appear because a crash mid-replay must not
	// lose the request.
	Pending(ctx context.Context) ([]*Entry, error)
	// Update persists entry's mutable fields (status, attempts,
	// last error) keyed by seq.
	Update(ctx context.Context, entry *Entry) error
	// Delete removes the entry with the given seq regardless of status.
	Delete(ctx context.Context, seq int64) error
	// DeadLetters lists dead-lettered entries in seq order.
	DeadLetters(ctx context.Context) ([]*Entry, error)
	// PurgeDeadLetters deletes all dead-lettered entries and reports
	// how many were removed.
	PurgeDeadLetters(ctx context.Context) (int, error)
	// Close releases the store's resources.
	Close() error
}
