package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"offsync-go/internal/events"
	"offsync-go/internal/monitoring"
)

// Monitor tracks whether the backend is reachable. It combines periodic
// active probes with externally pushed state (for hosts that surface OS
// reachability callbacks) and publishes a TopicConnectivityChanged event
// on every transition. Duplicate reports of the current state are
// swallowed.
type Monitor struct {
	prober   Prober
	hub      events.Publisher
	interval time.Duration

	mu    sync.RWMutex
	state State

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// MonitorOption customizes a Monitor.
type MonitorOption func(*Monitor)

// WithProbeInterval overrides the background probe cadence.
func WithProbeInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMonitor builds a Monitor. The initial state is offline until the
// first probe says otherwise; call Start to run the synchronous initial
// probe and launch the background loop.
func NewMonitor(prober Prober, hub events.Publisher, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		prober:   prober,
		hub:      hub,
		interval: 15 * time.Second,
		state:    StateOffline,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs one probe synchronously so callers observe a settled state
// immediately, then launches the periodic probe loop. Repeated calls are
// no-ops.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.applyProbe(ctx)
		go m.loop(ctx)
	})
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// Current returns the last observed state.
func (m *Monitor) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Online reports whether the last observed state is online.
func (m *Monitor) Online() bool { return m.Current().Online() }

// SetState feeds an externally observed state into the monitor, e.g.
// from a platform reachability callback. Transitions publish exactly one
// event; reporting the current state again does nothing.
func (m *Monitor) SetState(state State) {
	m.transition(state, "external")
}

// Subscribe registers fn for connectivity transitions and returns an
// unsubscribe func.
func (m *Monitor) Subscribe(fn func(Change)) func() {
	sub, ok := m.hub.(events.Subscriber)
	if !ok {
		return func() {}
	}
	return sub.Subscribe(events.TopicConnectivityChanged, func(_ context.Context, evt events.Event) {
		if ch, ok := evt.Payload.(Change); ok {
			fn(ch)
		}
	})
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.applyProbe(ctx)
		}
	}
}

func (m *Monitor) applyProbe(ctx context.Context) {
	if m.prober.Probe(ctx) {
		m.transition(StateOnline, "probe")
	} else {
		m.transition(StateOffline, "probe")
	}
}

func (m *Monitor) transition(next State, source string) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"state":  string(next),
		"source": source,
	}).Info("connectivity changed")

	if next.Online() {
		monitoring.ConnectivityOnline.Set(1)
	} else {
		monitoring.ConnectivityOnline.Set(0)
	}
	monitoring.ConnectivityTransitionsTotal.WithLabelValues(string(next)).Inc()

	if m.hub != nil {
		m.hub.Publish(context.Background(), events.TopicConnectivityChanged,
			Change{State: next, Source: source}, nil)
	}
}
