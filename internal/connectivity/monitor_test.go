package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	statuses []bool
	err      error
}

func (s *recordingSink) SetOnlineStatus(_ context.Context, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, online)
	return s.err
}

func (s *recordingSink) snapshot() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.statuses...)
}

type scriptedProber struct {
	mu      sync.Mutex
	results []error
}

func (p *scriptedProber) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

func TestCheckOnceReportsProbeResult(t *testing.T) {
	down := errors.New("connection refused")
	prober := &scriptedProber{results: []error{nil, down, nil}}
	sink := &recordingSink{}
	m := NewMonitor(prober, sink, time.Minute)

	ctx := context.Background()
	require.True(t, m.CheckOnce(ctx))
	require.False(t, m.CheckOnce(ctx))
	require.True(t, m.CheckOnce(ctx))
	require.Equal(t, []bool{true, false, true}, sink.snapshot())
}

func TestFailureThresholdDebouncesOffline(t *testing.T) {
	down := errors.New("timeout")
	prober := &scriptedProber{results: []error{down, down, down, nil}}
	sink := &recordingSink{}
	m := NewMonitor(prober, sink, time.Minute, WithFailureThreshold(3))

	ctx := context.Background()
	for range 4 {
		m.CheckOnce(ctx)
	}
	require.Equal(t, []bool{true, true, false, true}, sink.snapshot())
}

func TestSinkErrorDoesNotStopMonitor(t *testing.T) {
	sink := &recordingSink{err: errors.New("drain failed")}
	m := NewMonitor(ProbeFunc(func(context.Context) error { return nil }), sink, time.Minute)

	require.True(t, m.CheckOnce(context.Background()))
	require.True(t, m.CheckOnce(context.Background()))
	require.Len(t, sink.snapshot(), 2)
}

func TestProbeTimeoutApplied(t *testing.T) {
	var deadline time.Time
	prober := ProbeFunc(func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	})
	m := NewMonitor(prober, &recordingSink{}, time.Minute, WithProbeTimeout(50*time.Millisecond))

	start := time.Now()
	m.CheckOnce(context.Background())
	require.WithinDuration(t, start.Add(50*time.Millisecond), deadline, 40*time.Millisecond)
}

func TestStartStopsOnCancel(t *testing.T) {
	sink := &recordingSink{}
	m := NewMonitor(ProbeFunc(func(context.Context) error { return nil }), sink, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx)

	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
