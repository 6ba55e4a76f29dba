package queue

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"offsync-go/internal/apierr"
	"offsync-go/internal/connectivity"
	"offsync-go/internal/events"
	"offsync-go/internal/logging"
	"offsync-go/internal/monitoring"
	"offsync-go/internal/monitoring/tracing"
	"offsync-go/internal/transport"
)

// Sender replays a queued request. *transport.Client satisfies it.
type Sender interface {
	Do(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Manager owns the durable queue: it enqueues mutations while offline
// and drains them in FIFO order once connectivity returns. At most one
// drain pass runs at a time; triggers arriving mid-pass coalesce into
// a single follow-up pass.
type Manager struct {
	store  Store
	sender Sender
	hub    events.Publisher

	maxAttempts        int
	retryIdempotent5xx bool
	limiter            *rate.Limiter
	now                func() time.Time
	tracer             trace.Tracer

	mu       sync.Mutex
	draining bool
	rerun    bool
}

// SetMaxAttempts adjusts the attempt budget at runtime; used by config
// hot reload. Values below 1 are ignored.
func (m *Manager) SetMaxAttempts(n int) {
	if n < 1 {
		return
	}
	m.mu.Lock()
	m.maxAttempts = n
	m.mu.Unlock()
}

// SetRetryIdempotent5xx toggles the idempotent 5xx retry knob at runtime.
func (m *Manager) SetRetryIdempotent5xx(enabled bool) {
	m.mu.Lock()
	m.retryIdempotent5xx = enabled
	m.mu.Unlock()
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithMaxAttempts bounds how often a pending entry is replayed before it
// dead-letters. Values below 1 are ignored.
func WithMaxAttempts(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 1 {
			m.maxAttempts = n
		}
	}
}

// WithRetryIdempotent5xx lets drains keep retrying idempotent requests
// that fail with 502/503/504 instead of dead-lettering them.
func WithRetryIdempotent5xx(enabled bool) ManagerOption {
	return func(m *Manager) { m.retryIdempotent5xx = enabled }
}

// WithDrainRate paces replays during a drain to avoid stampeding a
// backend that just came back. Zero or negative disables pacing.
func WithDrainRate(perSec float64, burst int) ManagerOption {
	return func(m *Manager) {
		if perSec > 0 {
			if burst < 1 {
				burst = 1
			}
			m.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}

// WithManagerNowFunc injects a clock, for tests.
func WithManagerNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a queue manager on top of store, replaying through
// sender and publishing lifecycle events to hub (which may be nil).
func NewManager(store Store, sender Sender, hub events.Publisher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		sender:      sender,
		hub:         hub,
		maxAttempts: 5,
		now:         time.Now,
		tracer:      tracing.Tracer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes the manager to connectivity transitions so every
// offline-to-online edge triggers a drain. It returns an unsubscribe
// func.
func (m *Manager) Start(sub events.Subscriber) func() {
	return sub.Subscribe(events.TopicConnectivityChanged, func(ctx context.Context, evt events.Event) {
		ch, ok := evt.Payload.(connectivity.Change)
		if !ok || !ch.State.Online() {
			return
		}
		go func() {
			if _, err := m.Drain(context.Background()); err != nil {
				logrus.WithError(err).Warn("drain after reconnect failed")
			}
		}()
	})
}

// Enqueue persists req for later replay and returns the stored entry.
// Mutating requests without an idempotency key get one here so the
// eventual replay is deduplicated server-side.
func (m *Manager) Enqueue(ctx context.Context, req *transport.Request) (*Entry, error) {
	key := req.IdempotencyKey
	if key == "" && transport.Mutating(req.Method) {
		key = uuid.NewString()
	}
	entry := &Entry{
		ID:             uuid.NewString(),
		Method:         req.Method,
		Path:           req.Path,
		Body:           req.Body,
		Headers:        req.Headers,
		IdempotencyKey: key,
		EnqueuedAt:     m.now().UTC(),
		Status:         StatusPending,
	}
	if err := m.store.Append(ctx, entry); err != nil {
		return nil, err
	}

	monitoring.QueueEnqueuedTotal.Inc()
	m.refreshDepth(ctx)
	logging.WithEntry(entry.Seq, entry.ID, entry.Method, entry.Path).Info("request enqueued")
	m.publish(ctx, events.TopicRequestEnqueued, entry)
	return entry, nil
}

// Drain replays pending entries in seq order until the queue is empty
// or a retryable failure halts the pass. Concurrent calls coalesce: if
// a pass is already running the trigger is remembered and one follow-up
// pass runs after it, and the caller gets a nil result immediately.
func (m *Manager) Drain(ctx context.Context) (*DrainResult, error) {
	m.mu.Lock()
	if m.draining {
		m.rerun = true
		m.mu.Unlock()
		return nil, nil
	}
	m.draining = true
	m.mu.Unlock()

	var (
		result *DrainResult
		err    error
	)
	for {
		result, err = m.drainPass(ctx)

		m.mu.Lock()
		if err != nil || !m.rerun {
			m.draining = false
			m.rerun = false
			m.mu.Unlock()
			return result, err
		}
		m.rerun = false
		m.mu.Unlock()
	}
}

// Cancel removes a pending entry by its stable ID. Entries already
// replayed or dead-lettered cannot be cancelled through this path.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	pending, err := m.store.Pending(ctx)
	if err != nil {
		return err
	}
	for _, e := range pending {
		if e.ID != id {
			continue
		}
		if e.Status == StatusInFlight {
			return apierr.Client(http.StatusConflict, "in_flight", "entry is being replayed")
		}
		if err := m.store.Delete(ctx, e.Seq); err != nil {
			return err
		}
		m.refreshDepth(ctx)
		logging.WithEntry(e.Seq, e.ID, e.Method, e.Path).Info("queued request cancelled")
		return nil
	}
	return apierr.Client(http.StatusNotFound, "not_found", "no pending entry with that id")
}

// Stats reports current queue occupancy.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	pending, err := m.store.Pending(ctx)
	if err != nil {
		return Stats{}, err
	}
	dead, err := m.store.DeadLetters(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Pending: len(pending), DeadLetters: len(dead)}, nil
}

// DeadLetters exposes the dead-letter list for diagnostics.
func (m *Manager) DeadLetters(ctx context.Context) ([]*Entry, error) {
	return m.store.DeadLetters(ctx)
}

// Pending exposes the pending list for diagnostics.
func (m *Manager) Pending(ctx context.Context) ([]*Entry, error) {
	return m.store.Pending(ctx)
}

// PurgeDeadLetters drops all dead-lettered entries.
func (m *Manager) PurgeDeadLetters(ctx context.Context) (int, error) {
	return m.store.PurgeDeadLetters(ctx)
}

func (m *Manager) drainPass(ctx context.Context) (*DrainResult, error) {
	ctx, span := m.tracer.Start(ctx, "queue.drain")
	defer span.End()

	result := &DrainResult{}
	pending, err := m.store.Pending(ctx)
	if err != nil {
		monitoring.QueueDrainPassesTotal.WithLabelValues("storage_error").Inc()
		return nil, err
	}

	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			result.Halted = true
			result.HaltReason = "canceled"
			break
		}
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				result.Halted = true
				result.HaltReason = "canceled"
				break
			}
		}

		halt, err := m.replay(ctx, entry, result)
		if err != nil {
			monitoring.QueueDrainPassesTotal.WithLabelValues("storage_error").Inc()
			return nil, err
		}
		if halt {
			break
		}
	}

	remaining, err := m.store.Pending(ctx)
	if err != nil {
		return nil, err
	}
	result.Remaining = len(remaining)
	monitoring.QueueDepth.Set(float64(len(remaining)))

	passResult := "drained"
	if result.Halted {
		passResult = "halted"
	}
	monitoring.QueueDrainPassesTotal.WithLabelValues(passResult).Inc()
	span.SetAttributes(
		attribute.Int("queue.replayed", result.Replayed),
		attribute.Int("queue.dead_lettered", result.DeadLettered),
		attribute.Int("queue.remaining", result.Remaining),
	)
	logrus.WithFields(logrus.Fields{
		"replayed":      result.Replayed,
		"dead_lettered": result.DeadLettered,
		"remaining":     result.Remaining,
		"halted":        result.Halted,
	}).Info("drain pass finished")
	m.publish(ctx, events.TopicDrainFinished, result)
	return result, nil
}

// replay sends one entry. The returned bool asks the pass to halt:
// transient failures stop the drain so FIFO order is preserved for the
// entries behind the failing one. Storage errors abort the whole pass.
func (m *Manager) replay(ctx context.Context, entry *Entry, result *DrainResult) (bool, error) {
	entry.Status = StatusInFlight
	if err := m.store.Update(ctx, entry); err != nil {
		return false, err
	}

	_, sendErr := m.sender.Do(ctx, entry.Request())
	if sendErr == nil {
		if err := m.store.Delete(ctx, entry.Seq); err != nil {
			return false, err
		}
		result.Replayed++
		monitoring.QueueReplayedTotal.Inc()
		logging.WithEntry(entry.Seq, entry.ID, entry.Method, entry.Path).Info("queued request replayed")
		m.publish(ctx, events.TopicRequestReplayed, entry)
		return false, nil
	}

	entry.Attempts++
	entry.LastError = sendErr.Error()

	if m.retryableFailure(sendErr, entry.Method) {
		if entry.Attempts >= m.attemptBudget() {
			result.DeadLettered++
			return false, m.deadLetter(ctx, entry, "max_attempts")
		}
		entry.Status = StatusPending
		if err := m.store.Update(ctx, entry); err != nil {
			return false, err
		}
		result.Halted = true
		result.HaltReason = apierr.CodeOf(sendErr)
		logging.WithEntry(entry.Seq, entry.ID, entry.Method, entry.Path).
			WithError(sendErr).WithField("attempts", entry.Attempts).
			Warn("replay failed, halting drain")
		return true, nil
	}

	// non-retryable: the request itself is bad, or retrying would
	// duplicate a side effect
	reason := "client_error"
	switch k, _ := apierr.KindOf(sendErr); k {
	case apierr.KindAuth:
		reason = "auth_error"
	case apierr.KindServer:
		reason = "server_error"
	}
	result.DeadLettered++
	return false, m.deadLetter(ctx, entry, reason)
}

// retryableFailure decides whether a failed replay stays in the queue.
// Network failures always do; 502/503/504 do only for idempotent
// methods when the retry_idempotent_5xx knob is on.
func (m *Manager) retryableFailure(err error, method string) bool {
	if apierr.IsNetwork(err) {
		return true
	}
	m.mu.Lock()
	retry5xx := m.retryIdempotent5xx
	m.mu.Unlock()
	if !retry5xx || !transport.Idempotent(method) {
		return false
	}
	switch apierr.StatusOf(err) {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (m *Manager) attemptBudget() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxAttempts
}

func (m *Manager) deadLetter(ctx context.Context, entry *Entry, reason string) error {
	entry.Status = StatusDeadLetter
	entry.DeadReason = reason
	if err := m.store.Update(ctx, entry); err != nil {
		return err
	}
	monitoring.QueueDeadLetteredTotal.WithLabelValues(reason).Inc()
	logging.WithEntry(entry.Seq, entry.ID, entry.Method, entry.Path).
		WithField("reason", reason).Warn("queued request dead-lettered")
	m.publish(ctx, events.TopicRequestDeadLettered, entry)
	return nil
}

func (m *Manager) refreshDepth(ctx context.Context) {
	if pending, err := m.store.Pending(ctx); err == nil {
		monitoring.QueueDepth.Set(float64(len(pending)))
	}
}

func (m *Manager) publish(ctx context.Context, topic string, payload any) {
	if m.hub != nil {
		m.hub.Publish(ctx, topic, payload, nil)
	}
}
