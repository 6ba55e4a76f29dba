// Package repo is the façade the application talks to: reads go
// straight to the backend, writes fall back to the durable queue when
// the network is down or flakes mid-flight.
package repo

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"offsync-go/internal/apierr"
	"offsync-go/internal/queue"
	"offsync-go/internal/transport"
)

// Connectivity is the slice of the monitor the repository needs.
type Connectivity interface {
	Online() bool
}

// Enqueuer is the slice of the queue manager the repository needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *transport.Request) (*queue.Entry, error)
}

// Repository routes operations between the live transport and the
// durable queue. Reads are never queued: stale data is worse than an
// explicit offline error. Writes try the network first and enqueue on
// transient failure, so the caller always gets either a server response
// or a queued receipt.
type Repository struct {
	sender          queue.Sender
	queue           Enqueuer
	conn            Connectivity
	mutationIDField string
}

// Option customizes a Repository.
type Option func(*Repository)

// WithMutationIDField stamps every JSON write body with a client-side
// mutation id under the given field, letting the backend deduplicate
// replays at the payload level too. Empty disables stamping.
func WithMutationIDField(field string) Option {
	return func(r *Repository) { r.mutationIDField = field }
}

// New builds a Repository.
func New(sender queue.Sender, q Enqueuer, conn Connectivity, opts ...Option) *Repository {
	r := &Repository{sender: sender, queue: q, conn: conn}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WriteResult is the outcome of a write: either the server's response
// or a receipt for the queued entry, never both.
type WriteResult struct {
	Queued   bool
	Entry    *queue.Entry
	Response *transport.Response
}

// Get fetches path. Offline reads fail fast instead of serving a queued
// illusion of freshness.
func (r *Repository) Get(ctx context.Context, path string) (*transport.Response, error) {
	if !r.conn.Online() {
		return nil, apierr.Offline()
	}
	return r.sender.Do(ctx, &transport.Request{Method: http.MethodGet, Path: path})
}

// Create POSTs body to path.
func (r *Repository) Create(ctx context.Context, path string, body []byte) (*WriteResult, error) {
	return r.Write(ctx, http.MethodPost, path, body, nil)
}

// Update PUTs body to path.
func (r *Repository) Update(ctx context.Context, path string, body []byte) (*WriteResult, error) {
	return r.Write(ctx, http.MethodPut, path, body, nil)
}

// Patch PATCHes body to path.
func (r *Repository) Patch(ctx context.Context, path string, body []byte) (*WriteResult, error) {
	return r.Write(ctx, http.MethodPatch, path, body, nil)
}

// Delete issues a DELETE for path.
func (r *Repository) Delete(ctx context.Context, path string) (*WriteResult, error) {
	return r.Write(ctx, http.MethodDelete, path, nil, nil)
}

// Write performs a mutation online-first. While offline, or when the
// send fails with a transient network error, the request is enqueued
// for replay and the result reports Queued. Non-transient failures
// (auth, 4xx, 5xx) surface to the caller untouched.
func (r *Repository) Write(ctx context.Context, method, path string, body []byte, headers map[string]string) (*WriteResult, error) {
	if !transport.Mutating(method) {
		return nil, apierr.Client(http.StatusMethodNotAllowed, "invalid_method", "write requires a mutating method")
	}
	body = r.stampMutationID(body)
	req := &transport.Request{Method: method, Path: path, Body: body, Headers: headers}

	if !r.conn.Online() {
		return r.enqueue(ctx, req)
	}

	resp, err := r.sender.Do(ctx, req)
	if err == nil {
		return &WriteResult{Response: resp}, nil
	}
	if apierr.IsNetwork(err) {
		logrus.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).WithError(err).Info("write failed on the wire, enqueueing for replay")
		return r.enqueue(ctx, req)
	}
	return nil, err
}

func (r *Repository) enqueue(ctx context.Context, req *transport.Request) (*WriteResult, error) {
	entry, err := r.queue.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	return &WriteResult{Queued: true, Entry: entry}, nil
}

// stampMutationID injects a fresh mutation id into JSON bodies. Bodies
// that are not JSON objects, or that already carry the field, pass
// through untouched.
func (r *Repository) stampMutationID(body []byte) []byte {
	if r.mutationIDField == "" || len(body) == 0 {
		return body
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return body
	}
	if parsed.Get(r.mutationIDField).Exists() {
		return body
	}
	stamped, err := sjson.SetBytes(body, r.mutationIDField, uuid.NewString())
	if err != nil {
		return body
	}
	return stamped
}
