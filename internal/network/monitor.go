// Package network tracks connectivity to the remote check-in service.
package network

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Prober checks whether the remote service is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor holds the current online state and notifies subscribers once per
// offline to online edge. Repeated online reports do not re-fire callbacks.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	changedAt time.Time
	subs      map[int]func()
	nextID    int

	logger *zerolog.Logger
}

func NewMonitor(initialOnline bool, logger *zerolog.Logger) *Monitor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "network").Logger()
	return &Monitor{
		online:    initialOnline,
		changedAt: time.Now(),
		subs:      make(map[int]func()),
		logger:    &l,
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// ChangedAt returns when the state last flipped.
func (m *Monitor) ChangedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// OnReconnect registers cb for offline to online transitions.
func (m *Monitor) OnReconnect(cb func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = cb
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// SetOnline records the observed state. Callbacks run synchronously on the
// caller's goroutine, outside the monitor lock, only on a false to true edge.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.changedAt = time.Now()

	var callbacks []func()
	if online {
		callbacks = make([]func(), 0, len(m.subs))
		for _, cb := range m.subs {
			callbacks = append(callbacks, cb)
		}
	}
	m.mu.Unlock()

	if !online {
		m.logger.Warn().Msg("remote service unreachable, going offline")
		return
	}

	m.logger.Info().Int("subscribers", len(callbacks)).Msg("connectivity restored")
	for _, cb := range callbacks {
		cb()
	}
}

// Watch probes immediately and then every interval until ctx is done.
// Each probe is bounded by timeout when it is positive.
func (m *Monitor) Watch(ctx context.Context, prober Prober, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	m.probeOnce(ctx, prober, timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx, prober, timeout)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context, prober Prober, timeout time.Duration) {
	probeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := prober.Probe(probeCtx)
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.Debug().Err(err).Msg("probe failed")
	}
	m.SetOnline(err == nil)
}
