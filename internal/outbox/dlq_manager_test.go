package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/smartgrip/internal/cache"
	"example.com/smartgrip/internal/kvstore"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type stubReplayer struct {
	errs  []error
	calls []Action
}

func (r *stubReplayer) Replay(_ context.Context, a Action) error {
	r.calls = append(r.calls, a)
	if len(r.errs) == 0 {
		return nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return err
}

func newManagerFixture(t *testing.T, replayer Replayer, maxRetries int) (*DeadLetterManager, *DeadLetterStore, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)}
	store := NewDeadLetterStore(cache.New(kvstore.NewMemory()), c.Now)
	manager := NewDeadLetterManager(store, replayer, maxRetries, time.Minute, WithManagerClock(c.Now))
	return manager, store, c
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	m := NewDeadLetterManager(nil, nil, 5, time.Minute)
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 2*time.Minute, m.backoffDelay(2))
	require.Equal(t, 16*time.Minute, m.backoffDelay(5))
	require.Equal(t, time.Hour, m.backoffDelay(7))
	require.Equal(t, time.Hour, m.backoffDelay(64))

	for attempt := 1; attempt <= 70; attempt++ {
		delay := m.backoffDelay(attempt)
		require.Positive(t, delay, "attempt %d", attempt)
		require.LessOrEqual(t, delay, time.Hour, "attempt %d", attempt)
	}

	slow := NewDeadLetterManager(nil, nil, 40, 90*time.Minute)
	require.Equal(t, time.Hour, slow.backoffDelay(1))
}

func TestAddExistingEntryReturnsStoredState(t *testing.T) {
	ctx := context.Background()
	manager, store, c := newManagerFixture(t, &stubReplayer{errs: []error{errors.New("timeout")}}, 5)

	action := newAction(t, "sessions", "offline_1")
	_, err := store.Add(ctx, action, "network unreachable")
	require.NoError(t, err)
	_, err = manager.RunOnce(ctx, 10)
	require.NoError(t, err)

	c.now = c.now.Add(time.Minute)
	entry, err := store.Add(ctx, action, "still unreachable")
	require.NoError(t, err)
	require.Equal(t, 1, entry.RetryCount)
	require.Equal(t, "still unreachable", entry.Reason)
	require.Len(t, store.List(ctx), 1)
}

func TestDeadLettersSurviveUnreadableStore(t *testing.T) {
	ctx := context.Background()
	kv := &unreadableKV{MemoryStore: kvstore.NewMemory()}
	store := NewDeadLetterStore(cache.New(kv), nil)
	first := newAction(t, "sessions", "offline_1")
	_, err := store.Add(ctx, first, "x")
	require.NoError(t, err)

	kv.failReads = true
	_, err = store.Add(ctx, newAction(t, "sessions", "offline_2"), "y")
	require.Error(t, err)
	require.Error(t, store.Rewrite(ctx, func(*Action) bool { return true }))
	require.Error(t, store.Purge(ctx, first.ID))

	kv.failReads = false
	entries := store.List(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, first.ID, entries[0].ID())
}

func TestRunOnceReplaysDueEntries(t *testing.T) {
	ctx := context.Background()
	replayer := &stubReplayer{}
	manager, store, _ := newManagerFixture(t, replayer, 3)

	action := newAction(t, "sessions", "offline_1")
	_, err := store.Add(ctx, action, "network unreachable")
	require.NoError(t, err)

	before := testutil.ToFloat64(dlqProcessedCounter.WithLabelValues("sessions", "CREATE"))
	report, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Len(t, report.Replayed, 1)
	require.Len(t, replayer.calls, 1)
	require.Equal(t, action.ID, replayer.calls[0].ID)
	require.Empty(t, store.List(ctx))
	require.InDelta(t, before+1, testutil.ToFloat64(dlqProcessedCounter.WithLabelValues("sessions", "CREATE")), 0.0001)
}

func TestRunOnceSchedulesBackoffThenQuarantines(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("backend rejected write")
	replayer := &stubReplayer{errs: []error{boom, boom}}
	manager, store, c := newManagerFixture(t, replayer, 2)

	_, err := store.Add(ctx, newAction(t, "activities", "offline_9"), "first failure")
	require.NoError(t, err)

	report, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Len(t, report.Rescheduled, 1)

	entries := store.List(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, 1, entries[0].RetryCount)
	require.Equal(t, c.now.Add(time.Minute), entries[0].NextRetryAt)
	require.Equal(t, boom.Error(), entries[0].Reason)

	report, err = manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, report.Rescheduled, "entry is not due until its backoff elapses")
	require.Len(t, replayer.calls, 1)

	c.now = c.now.Add(time.Minute)
	_, err = manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	entries = store.List(ctx)
	require.Equal(t, 2, entries[0].RetryCount)
	require.Equal(t, c.now.Add(2*time.Minute), entries[0].NextRetryAt)

	c.now = c.now.Add(2 * time.Minute)
	report, err = manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Len(t, report.Quarantined, 1)
	require.Len(t, replayer.calls, 2, "quarantined entries are not replayed")

	entries = store.List(ctx)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Quarantined())
	require.Equal(t, "retry limit reached", entries[0].QuarantineReason)

	c.now = c.now.Add(24 * time.Hour)
	report, err = manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, report.Quarantined)
	require.Empty(t, report.Replayed)
}

func TestRequeueAndPurge(t *testing.T) {
	ctx := context.Background()
	replayer := &stubReplayer{}
	manager, store, _ := newManagerFixture(t, replayer, 1)

	kept := newAction(t, "sessions", "a")
	dropped := newAction(t, "sessions", "b")
	_, err := store.Add(ctx, kept, "x")
	require.NoError(t, err)
	_, err = store.Add(ctx, dropped, "y")
	require.NoError(t, err)

	require.NoError(t, store.mutate(ctx, kept.ID, func(d *DeadLetter) {
		d.RetryCount = 1
		d.QuarantinedAt = time.Now()
	}))

	require.NoError(t, store.Purge(ctx, dropped.ID))
	require.ErrorIs(t, store.Purge(ctx, dropped.ID), ErrDeadLetterNotFound)

	require.NoError(t, store.Requeue(ctx, kept.ID))
	require.ErrorIs(t, store.Requeue(ctx, "missing"), ErrDeadLetterNotFound)

	report, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Len(t, report.Replayed, 1)
	require.Empty(t, store.List(ctx))
}

func TestRewriteUpdatesStoredActions(t *testing.T) {
	ctx := context.Background()
	_, store, _ := newManagerFixture(t, &stubReplayer{}, 3)

	action := newAction(t, "sessions", "offline_1")
	_, err := store.Add(ctx, action, "x")
	require.NoError(t, err)

	require.NoError(t, store.Rewrite(ctx, func(a *Action) bool {
		if a.DocumentID != "offline_1" {
			return false
		}
		a.DocumentID = "srv-1"
		return true
	}))
	require.Equal(t, "srv-1", store.List(ctx)[0].Action.DocumentID)
}
