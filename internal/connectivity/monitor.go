// Package connectivity probes the remote backend and reports reachability
// changes to the orchestrator.
package connectivity

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Prober checks whether the backend is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

// Ping calls f.
func (f ProbeFunc) Ping(ctx context.Context) error { return f(ctx) }

// StatusSink receives connectivity updates.
type StatusSink interface {
	SetOnlineStatus(ctx context.Context, online bool) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithFailureThreshold sets how many consecutive failed probes flip the
// status to offline.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// Monitor polls a Prober and forwards the derived status to a StatusSink.
type Monitor struct {
	prober    Prober
	sink      StatusSink
	interval  time.Duration
	timeout   time.Duration
	threshold int
	logger    *zap.Logger

	failures         int
	shutdownComplete chan struct{}
}

// NewMonitor constructs a Monitor probing every interval.
func NewMonitor(prober Prober, sink StatusSink, interval time.Duration, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &Monitor{
		prober:           prober,
		sink:             sink,
		interval:         interval,
		timeout:          3 * time.Second,
		threshold:        1,
		logger:           zap.NewNop(),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start probes until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer func() {
		ticker.Stop()
		close(m.shutdownComplete)
	}()

	for {
		m.CheckOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start returns.
func (m *Monitor) Wait() {
	<-m.shutdownComplete
}

// CheckOnce runs a single probe, reports the result to the sink and returns
// the status reported. Start calls it on every tick.
func (m *Monitor) CheckOnce(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Ping(probeCtx)
	cancel()

	if ctx.Err() != nil {
		return m.failures < m.threshold
	}

	online := true
	if err != nil {
		m.failures++
		online = m.failures < m.threshold
		m.logger.Debug("connectivity probe failed", zap.Int("consecutive_failures", m.failures), zap.Error(err))
	} else {
		m.failures = 0
	}

	if err := m.sink.SetOnlineStatus(ctx, online); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("connectivity update failed", zap.Bool("online", online), zap.Error(err))
	}
	return online
}
