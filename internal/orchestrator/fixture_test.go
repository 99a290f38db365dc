package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"example.com/smartgrip/internal/cache"
	"example.com/smartgrip/internal/domain"
	"example.com/smartgrip/internal/events"
	"example.com/smartgrip/internal/kvstore"
	"example.com/smartgrip/internal/remote"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway counts calls and can inject failures in front of a real
// gateway over the in-memory document store.
type fakeGateway struct {
	inner  *remote.Gateway
	mu     sync.Mutex
	calls  map[string]int
	failOn func(op string, call int) error
}

func newFakeGateway(clock *testClock) *fakeGateway {
	return &fakeGateway{
		inner: remote.NewGateway(remote.NewMemoryDocumentStore(), remote.WithClock(clock.Now)),
		calls: make(map[string]int),
	}
}

func (f *fakeGateway) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failOn != nil {
		return f.failOn(op, f.calls[op])
	}
	return nil
}

func (f *fakeGateway) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeGateway) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeGateway) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

func (f *fakeGateway) CreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	if err := f.hit("CreateActivity"); err != nil {
		return domain.Activity{}, err
	}
	return f.inner.CreateActivity(ctx, a)
}

func (f *fakeGateway) GetUserActivities(ctx context.Context, userID string) ([]domain.Activity, error) {
	if err := f.hit("GetUserActivities"); err != nil {
		return nil, err
	}
	return f.inner.GetUserActivities(ctx, userID)
}

func (f *fakeGateway) UpdateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	if err := f.hit("UpdateActivity"); err != nil {
		return domain.Activity{}, err
	}
	return f.inner.UpdateActivity(ctx, a)
}

func (f *fakeGateway) DeleteActivity(ctx context.Context, userID, id string) error {
	if err := f.hit("DeleteActivity"); err != nil {
		return err
	}
	return f.inner.DeleteActivity(ctx, userID, id)
}

func (f *fakeGateway) CreateSession(ctx context.Context, s domain.ActivitySession) (domain.ActivitySession, error) {
	if err := f.hit("CreateSession"); err != nil {
		return domain.ActivitySession{}, err
	}
	return f.inner.CreateSession(ctx, s)
}

func (f *fakeGateway) GetUserSessions(ctx context.Context, userID string, limit int) ([]domain.ActivitySession, error) {
	if err := f.hit("GetUserSessions"); err != nil {
		return nil, err
	}
	return f.inner.GetUserSessions(ctx, userID, limit)
}

func (f *fakeGateway) UpdateSession(ctx context.Context, s domain.ActivitySession) (domain.ActivitySession, error) {
	if err := f.hit("UpdateSession"); err != nil {
		return domain.ActivitySession{}, err
	}
	return f.inner.UpdateSession(ctx, s)
}

func (f *fakeGateway) DeleteSession(ctx context.Context, userID, id string) error {
	if err := f.hit("DeleteSession"); err != nil {
		return err
	}
	return f.inner.DeleteSession(ctx, userID, id)
}

func (f *fakeGateway) GetUserStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	if err := f.hit("GetUserStats"); err != nil {
		return nil, err
	}
	return f.inner.GetUserStats(ctx, userID)
}

func (f *fakeGateway) UpdateUserStats(ctx context.Context, stats domain.UserStats) error {
	if err := f.hit("UpdateUserStats"); err != nil {
		return err
	}
	return f.inner.UpdateUserStats(ctx, stats)
}

func (f *fakeGateway) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	if err := f.hit("GetProfile"); err != nil {
		return nil, err
	}
	return f.inner.GetProfile(ctx, userID)
}

func (f *fakeGateway) UpdateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	if err := f.hit("UpdateProfile"); err != nil {
		return domain.Profile{}, err
	}
	return f.inner.UpdateProfile(ctx, p)
}

type fixture struct {
	orch   *Orchestrator
	gw     *fakeGateway
	cache  *cache.Store
	kv     kvstore.Store
	clock  *testClock
	events *[]events.Event
}

func newFixture(t *testing.T, online bool, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithKV(t, kvstore.NewMemory(), online, opts...)
}

func newFixtureWithKV(t *testing.T, kv kvstore.Store, online bool, opts ...Option) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2025, time.July, 14, 7, 30, 0, 0, time.UTC)}
	store := cache.New(kv, cache.WithClock(clock.Now))
	gw := newFakeGateway(clock)

	all := append([]Option{WithClock(clock.Now), WithInitialOnline(online)}, opts...)
	orch := New(context.Background(), store, gw, all...)

	var seen []events.Event
	var mu sync.Mutex
	orch.Subscribe(func(_ context.Context, e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
	})

	return &fixture{orch: orch, gw: gw, cache: store, kv: kv, clock: clock, events: &seen}
}

func (f *fixture) eventsOfType(eventType string) []events.Event {
	out := make([]events.Event, 0)
	for _, e := range *f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func hangActivity(userID string) domain.Activity {
	return domain.Activity{UserID: userID, Name: "Dead hang", Type: domain.ActivityTypeHang, TargetTime: 60 * time.Second}
}

func sessionFor(userID, activityID string, start time.Time) domain.ActivitySession {
	return domain.ActivitySession{
		UserID:     userID,
		ActivityID: activityID,
		StartTime:  start,
		EndTime:    start.Add(2 * time.Minute),
		Completed:  true,
		TotalTime:  2 * time.Minute,
		Splits: []domain.Split{
			{Metric: "time", Value: 55, Side: domain.SideLeft},
			{Metric: "time", Value: 50, Side: domain.SideRight},
		},
	}
}
