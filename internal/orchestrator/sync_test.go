package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/smartgrip/internal/cache"
	"example.com/smartgrip/internal/domain"
	"example.com/smartgrip/internal/events"
	"example.com/smartgrip/internal/kvstore"
	"example.com/smartgrip/internal/remote"
)

func TestDrainAlwaysEmptiesQueue(t *testing.T) {
	for failures := 0; failures <= 3; failures++ {
		t.Run(fmt.Sprintf("%d failures", failures), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, false)
			f.gw.failOn = func(op string, call int) error {
				if op == "CreateActivity" && call <= failures {
					return errors.New("rejected")
				}
				return nil
			}

			for range 3 {
				_, err := f.orch.CreateActivity(ctx, hangActivity("user-1"))
				require.NoError(t, err)
			}
			require.Len(t, f.orch.PendingActions(), 3)

			require.NoError(t, f.orch.SetOnlineStatus(ctx, true))

			require.Empty(t, f.orch.PendingActions())
			require.Len(t, f.orch.DeadLetters(ctx), failures)
			require.Len(t, f.eventsOfType(events.TypeActionDeadLettered), failures)
			require.Len(t, f.eventsOfType(events.TypeIDRemapped), 3-failures)

			drained := f.eventsOfType(events.TypeQueueDrained)
			require.Len(t, drained, 1)
			require.Equal(t, events.QueueDrained{Replayed: 3 - failures, DeadLettered: failures}, drained[0].Payload)

			remoteActivities, err := f.gw.inner.GetUserActivities(ctx, "user-1")
			require.NoError(t, err)
			require.Len(t, remoteActivities, 3-failures)
		})
	}
}

func TestDrainRemapsOfflineIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	activity, err := f.orch.CreateActivity(ctx, hangActivity("user-1"))
	require.NoError(t, err)
	session, err := f.orch.CreateSession(ctx, sessionFor("user-1", activity.ID, f.clock.Now()))
	require.NoError(t, err)
	require.Equal(t, activity.ID, session.ActivityID)

	require.NoError(t, f.orch.SetOnlineStatus(ctx, true))

	remapped := f.eventsOfType(events.TypeIDRemapped)
	require.Len(t, remapped, 2)
	activityRemap := remapped[0].Payload.(events.IDRemapped)
	sessionRemap := remapped[1].Payload.(events.IDRemapped)
	require.Equal(t, remote.CollectionActivities, activityRemap.Collection)
	require.Equal(t, activity.ID, activityRemap.LocalID)
	require.Equal(t, remote.CollectionSessions, sessionRemap.Collection)
	require.Equal(t, session.ID, sessionRemap.LocalID)
	require.Equal(t, "user-1", remapped[0].UserID)

	remoteSessions, err := f.gw.inner.GetUserSessions(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, remoteSessions, 1)
	require.Equal(t, sessionRemap.ServerID, remoteSessions[0].ID)
	require.Equal(t, activityRemap.ServerID, remoteSessions[0].ActivityID)
	require.Len(t, remoteSessions[0].Splits, 2)

	require.Equal(t, activityRemap.ServerID, f.orch.resolveID(ctx, activity.ID))
	require.Equal(t, sessionRemap.ServerID, f.orch.resolveID(ctx, session.ID))

	stats, err := f.gw.inner.GetUserStats(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalActivities)
	require.Equal(t, 1, stats.TotalSessions)
}

func TestRemapRewritesCachedRowsWhenRefreshFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	activity, err := f.orch.CreateActivity(ctx, hangActivity("user-1"))
	require.NoError(t, err)
	session, err := f.orch.CreateSession(ctx, sessionFor("user-1", activity.ID, f.clock.Now()))
	require.NoError(t, err)

	f.gw.failOn = func(op string, _ int) error {
		if op == "GetUserSessions" || op == "GetUserActivities" {
			return errors.New("read timeout")
		}
		return nil
	}
	require.NoError(t, f.orch.SetOnlineStatus(ctx, true))

	cached, ok := cache.Get[[]domain.ActivitySession](ctx, f.cache, cache.SessionsKey("user-1"), 0)
	require.True(t, ok)
	require.Len(t, cached, 1)
	require.False(t, IsOfflineID(cached[0].ID))
	require.False(t, IsOfflineID(cached[0].ActivityID))
	require.NotEqual(t, session.ID, cached[0].ID)

	activities, ok := cache.Get[[]domain.Activity](ctx, f.cache, cache.ActivitiesKey("user-1"), 0)
	require.True(t, ok)
	require.Equal(t, cached[0].ActivityID, activities[0].ID)
}

func TestUpdateQueuedAfterCreateReplaysAgainstServerID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	session, err := f.orch.CreateSession(ctx, sessionFor("user-1", "a-1", f.clock.Now()))
	require.NoError(t, err)
	_, err = f.orch.AppendSplits(ctx, "user-1", session.ID, domain.Split{Metric: "time", Value: 40, Side: domain.SideLeft})
	require.NoError(t, err)
	require.Len(t, f.orch.PendingActions(), 2)

	require.NoError(t, f.orch.SetOnlineStatus(ctx, true))
	require.Empty(t, f.orch.DeadLetters(ctx))

	remoteSessions, err := f.gw.inner.GetUserSessions(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, remoteSessions, 1)
	require.Len(t, remoteSessions[0].Splits, 3)
	require.Equal(t, 1, f.gw.count("UpdateSession"))
}

func TestDrainStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, false)
	for range 2 {
		_, err := f.orch.CreateActivity(context.Background(), hangActivity("user-1"))
		require.NoError(t, err)
	}

	f.orch.mu.Lock()
	f.orch.online = true
	f.orch.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := f.orch.ProcessOfflineQueue(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, summary.Replayed)
	require.Len(t, f.orch.PendingActions(), 2)
	require.Zero(t, f.gw.count("CreateActivity"))

	f.orch.mu.Lock()
	f.orch.online = false
	f.orch.mu.Unlock()
	_, err = f.orch.CreateActivity(context.Background(), hangActivity("user-1"))
	require.NoError(t, err)

	restarted := New(context.Background(), cache.New(f.kv, cache.WithClock(f.clock.Now)), f.gw, WithClock(f.clock.Now), WithInitialOnline(false))
	require.Len(t, restarted.PendingActions(), 3)
}

func TestDrainLeavesUnreadableQueueUntouched(t *testing.T) {
	ctx := context.Background()
	kv := &queueReadFailKV{MemoryStore: kvstore.NewMemory()}
	f := newFixtureWithKV(t, kv, false)
	for range 2 {
		_, err := f.orch.CreateActivity(ctx, hangActivity("user-1"))
		require.NoError(t, err)
	}

	kv.fail = true
	require.Error(t, f.orch.SetOnlineStatus(ctx, true))
	require.Zero(t, f.gw.count("CreateActivity"))
	require.Len(t, f.orch.PendingActions(), 2)

	kv.fail = false
	_, err := f.orch.ProcessOfflineQueue(ctx)
	require.NoError(t, err)
	require.Empty(t, f.orch.PendingActions())
	require.Equal(t, 2, f.gw.count("CreateActivity"))
}

func TestQueueDrainedCountsArePerUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.gw.failOn = func(op string, call int) error {
		if op == "CreateActivity" && call == 3 {
			return errors.New("rejected")
		}
		return nil
	}

	for _, userID := range []string{"user-1", "user-1", "user-2"} {
		_, err := f.orch.CreateActivity(ctx, hangActivity(userID))
		require.NoError(t, err)
	}
	summary, err := f.orch.ProcessOfflineQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, events.QueueDrained{Replayed: 2, DeadLettered: 1}, summary)

	byUser := make(map[string]events.QueueDrained)
	for _, e := range f.eventsOfType(events.TypeQueueDrained) {
		byUser[e.UserID] = e.Payload.(events.QueueDrained)
	}
	require.Equal(t, map[string]events.QueueDrained{
		"user-1": {Replayed: 2},
		"user-2": {DeadLettered: 1},
	}, byUser)
}

func TestQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.orch.CreateActivity(ctx, hangActivity("user-1"))
	require.NoError(t, err)

	restarted := New(ctx, cache.New(f.kv, cache.WithClock(f.clock.Now)), f.gw, WithClock(f.clock.Now), WithInitialOnline(false))
	pending := restarted.PendingActions()
	require.Len(t, pending, 1)
	require.Equal(t, f.orch.PendingActions()[0].ID, pending[0].ID)

	require.NoError(t, restarted.SetOnlineStatus(ctx, true))
	require.Empty(t, restarted.PendingActions())
	require.Equal(t, 1, f.gw.count("CreateActivity"))
}

func TestConnectivityEventsOnTransitionsOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	require.NoError(t, f.orch.SetOnlineStatus(ctx, true))
	require.Empty(t, f.eventsOfType(events.TypeConnectivityChanged))

	require.NoError(t, f.orch.SetOnlineStatus(ctx, false))
	require.False(t, f.orch.IsOnline())
	require.NoError(t, f.orch.SetOnlineStatus(ctx, true))
	require.True(t, f.orch.IsOnline())

	changes := f.eventsOfType(events.TypeConnectivityChanged)
	require.Len(t, changes, 2)
	require.Equal(t, events.ConnectivityChanged{Online: false}, changes[0].Payload)
	require.Equal(t, events.ConnectivityChanged{Online: true}, changes[1].Payload)
	require.Zero(t, f.gw.total())
}

func TestRetryDeadLettersReplaysAndRemaps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.gw.failOn = func(op string, call int) error {
		if op == "CreateActivity" && call == 1 {
			return errors.New("rejected")
		}
		return nil
	}

	activity, err := f.orch.CreateActivity(ctx, hangActivity("user-1"))
	require.NoError(t, err)
	require.NoError(t, f.orch.SetOnlineStatus(ctx, true))
	require.Len(t, f.orch.DeadLetters(ctx), 1)

	report, err := f.orch.RetryDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, report.Replayed, 1)
	require.Empty(t, f.orch.DeadLetters(ctx))

	remapped := f.eventsOfType(events.TypeIDRemapped)
	require.Len(t, remapped, 1)
	require.Equal(t, activity.ID, remapped[0].Payload.(events.IDRemapped).LocalID)
}

func TestSessionOnDeadLetteredActivityWaitsForReconciliation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.gw.failOn = func(op string, call int) error {
		if op == "CreateActivity" && call == 1 {
			return errors.New("rejected")
		}
		return nil
	}

	activity, err := f.orch.CreateActivity(ctx, hangActivity("user-1"))
	require.NoError(t, err)
	require.NoError(t, f.orch.SetOnlineStatus(ctx, true))
	require.Len(t, f.orch.DeadLetters(ctx), 1)

	session, err := f.orch.CreateSession(ctx, sessionFor("user-1", activity.ID, f.clock.Now()))
	require.NoError(t, err)
	require.True(t, IsOfflineID(session.ID))
	require.Len(t, f.orch.PendingActions(), 1)
	require.Zero(t, f.gw.count("CreateSession"))

	_, err = f.orch.RetryDeadLetters(ctx)
	require.NoError(t, err)
	require.Empty(t, f.orch.DeadLetters(ctx))
	require.Empty(t, f.orch.PendingActions())

	serverActivityID := f.orch.resolveID(ctx, activity.ID)
	require.False(t, IsOfflineID(serverActivityID))
	remoteSessions, err := f.gw.inner.GetUserSessions(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, remoteSessions, 1)
	require.Equal(t, serverActivityID, remoteSessions[0].ActivityID)
}

func TestReplayRefusesUnresolvedActivityReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.gw.failOn = func(op string, call int) error {
		if op == "CreateActivity" {
			return errors.New("rejected")
		}
		return nil
	}

	activity, err := f.orch.CreateActivity(ctx, hangActivity("user-1"))
	require.NoError(t, err)
	_, err = f.orch.CreateSession(ctx, sessionFor("user-1", activity.ID, f.clock.Now()))
	require.NoError(t, err)

	require.NoError(t, f.orch.SetOnlineStatus(ctx, true))
	require.Zero(t, f.gw.count("CreateSession"))
	letters := f.orch.DeadLetters(ctx)
	require.Len(t, letters, 2)
	require.Contains(t, letters[1].Reason, activity.ID)

	f.gw.failOn = nil
	_, err = f.orch.RetryDeadLetters(ctx)
	require.NoError(t, err)
	require.Empty(t, f.orch.DeadLetters(ctx))

	remoteSessions, err := f.gw.inner.GetUserSessions(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, remoteSessions, 1)
	require.Equal(t, f.orch.resolveID(ctx, activity.ID), remoteSessions[0].ActivityID)
}

func TestRetryDeadLettersQuarantinesAfterRetryLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, WithDeadLetterPolicy(1, time.Second, 10))
	rejecting := true
	f.gw.failOn = func(op string, _ int) error {
		if op == "CreateActivity" && rejecting {
			return errors.New("rejected")
		}
		return nil
	}

	_, err := f.orch.CreateActivity(ctx, hangActivity("user-1"))
	require.NoError(t, err)
	require.NoError(t, f.orch.SetOnlineStatus(ctx, true))

	report, err := f.orch.RetryDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, report.Rescheduled, 1)
	entry := f.orch.DeadLetters(ctx)[0]
	require.Equal(t, 1, entry.RetryCount)
	require.True(t, f.clock.Now().Add(time.Second).Equal(entry.NextRetryAt))

	// Not yet due.
	report, err = f.orch.RetryDeadLetters(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Rescheduled)
	require.Empty(t, report.Quarantined)

	f.clock.Advance(time.Second)
	report, err = f.orch.RetryDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, report.Quarantined, 1)
	require.True(t, f.orch.DeadLetters(ctx)[0].Quarantined())
	require.Len(t, f.eventsOfType(events.TypeActionQuarantined), 1)

	rejecting = false
	require.NoError(t, f.orch.RequeueDeadLetter(ctx, entry.ID()))
	report, err = f.orch.RetryDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, report.Replayed, 1)
	require.Empty(t, f.orch.DeadLetters(ctx))
}

func TestRetryDeadLettersIdleWhileOffline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	report, err := f.orch.RetryDeadLetters(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Replayed)
	require.Zero(t, f.gw.total())
}

func TestPurgeDeadLetter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.gw.failOn = func(op string, _ int) error {
		if op == "UpdateProfile" {
			return errors.New("rejected")
		}
		return nil
	}

	_, err := f.orch.UpdateProfile(ctx, domain.Profile{UserID: "user-1", DisplayName: "Grip"})
	require.NoError(t, err)
	require.NoError(t, f.orch.SetOnlineStatus(ctx, true))

	letters := f.orch.DeadLetters(ctx)
	require.Len(t, letters, 1)
	require.NoError(t, f.orch.PurgeDeadLetter(ctx, letters[0].ID()))
	require.Empty(t, f.orch.DeadLetters(ctx))
}

type queueReadFailKV struct {
	*kvstore.MemoryStore
	fail bool
}

func (q *queueReadFailKV) Get(ctx context.Context, key string) (string, bool, error) {
	if q.fail && key == cache.QueueKey {
		return "", false, errors.New("io error")
	}
	return q.MemoryStore.Get(ctx, key)
}
