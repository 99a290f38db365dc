package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/smartgrip/internal/domain"
)

func newTestGateway() (*Gateway, *MemoryDocumentStore) {
	store := NewMemoryDocumentStore()
	clock := func() time.Time { return time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC) }
	return NewGateway(store, WithClock(clock)), store
}

func TestSessionRoundTripKeepsSplits(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway()

	start := time.Date(2025, time.May, 30, 18, 15, 0, 0, time.UTC)
	session := domain.ActivitySession{
		UserID:     "u1",
		ActivityID: "act-1",
		StartTime:  start,
		EndTime:    start.Add(95 * time.Second),
		Completed:  true,
		TotalTime:  95 * time.Second,
		Splits: []domain.Split{
			{Metric: "time", Value: 45.5, Side: domain.SideLeft},
			{Metric: "time", Value: 40, IsRest: false, Side: domain.SideRight},
		},
	}

	created, err := gw.CreateSession(ctx, session)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	sessions, err := gw.GetUserSessions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	got := sessions[0]
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, session.ActivityID, got.ActivityID)
	require.Equal(t, session.StartTime, got.StartTime)
	require.Equal(t, session.EndTime, got.EndTime)
	require.Equal(t, session.TotalTime, got.TotalTime)
	require.True(t, got.Completed)
	require.Equal(t, session.Splits, got.Splits)
}

func TestTimesAreStoredAsNativeTimestamps(t *testing.T) {
	ctx := context.Background()
	gw, store := newTestGateway()

	start := time.Date(2025, time.May, 30, 18, 15, 0, 250_000_000, time.UTC)
	created, err := gw.CreateSession(ctx, domain.ActivitySession{UserID: "u1", ActivityID: "a", StartTime: start})
	require.NoError(t, err)

	doc, err := store.Get(ctx, CollectionSessions, created.ID)
	require.NoError(t, err)
	require.NotNil(t, doc)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc.Data, &raw))
	require.JSONEq(t, `{"_seconds":1748628900,"_nanoseconds":250000000}`, string(raw["startTime"]))
}

func TestSessionsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway()

	base := time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := gw.CreateSession(ctx, domain.ActivitySession{UserID: "u1", ActivityID: "a", StartTime: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}
	_, err := gw.CreateSession(ctx, domain.ActivitySession{UserID: "other", ActivityID: "a", StartTime: base.Add(24 * time.Hour)})
	require.NoError(t, err)

	sessions, err := gw.GetUserSessions(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.Equal(t, base.Add(4*time.Hour), sessions[0].StartTime)
	require.Equal(t, base.Add(2*time.Hour), sessions[2].StartTime)
}

func TestActivityCreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway()

	created, err := gw.CreateActivity(ctx, domain.Activity{UserID: "u1", Name: "Farmer walk", Type: domain.ActivityTypeFarmerWalk, TargetDistance: 40, WeightPerHand: 24})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	created.WeightPerHand = 28
	_, err = gw.UpdateActivity(ctx, created)
	require.NoError(t, err)

	activities, err := gw.GetUserActivities(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, activities, 1)
	require.Equal(t, 28.0, activities[0].WeightPerHand)
	require.Equal(t, domain.ActivityTypeFarmerWalk, activities[0].Type)
}

func TestUpdateAndDeleteRequireOwnership(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway()

	activity, err := gw.CreateActivity(ctx, domain.Activity{UserID: "u1", Name: "Dead hang", Type: domain.ActivityTypeHang, TargetTime: time.Minute})
	require.NoError(t, err)
	session, err := gw.CreateSession(ctx, domain.ActivitySession{UserID: "u1", ActivityID: activity.ID, StartTime: time.Now()})
	require.NoError(t, err)

	hijack := activity
	hijack.UserID = "u2"
	hijack.Name = "mine now"
	_, err = gw.UpdateActivity(ctx, hijack)
	require.ErrorIs(t, err, ErrDocumentNotFound)

	hijackSession := session
	hijackSession.UserID = "u2"
	_, err = gw.UpdateSession(ctx, hijackSession)
	require.ErrorIs(t, err, ErrDocumentNotFound)

	require.ErrorIs(t, gw.DeleteSession(ctx, "u2", session.ID), ErrDocumentNotFound)
	require.ErrorIs(t, gw.DeleteActivity(ctx, "u2", activity.ID), ErrDocumentNotFound)

	activities, err := gw.GetUserActivities(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, activities, 1)
	require.Equal(t, "Dead hang", activities[0].Name)
	others, err := gw.GetUserActivities(ctx, "u2")
	require.NoError(t, err)
	require.Empty(t, others)
	sessions, err := gw.GetUserSessions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, gw.DeleteSession(ctx, "u1", session.ID))
	require.NoError(t, gw.DeleteActivity(ctx, "u1", activity.ID))
}

func TestErrorsCarryOperationAndCause(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway()

	_, err := gw.UpdateSession(ctx, domain.ActivitySession{ID: "nope", UserID: "u1", ActivityID: "a", StartTime: time.Now()})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDocumentNotFound)

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, "update", gwErr.Verb)
	require.Equal(t, "session", gwErr.Entity)
	require.Contains(t, err.Error(), "failed to update session")
}

func TestStatsAndProfileAbsentAreNil(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway()

	stats, err := gw.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, stats)

	profile, err := gw.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, profile)

	require.NoError(t, gw.UpdateUserStats(ctx, domain.UserStats{UserID: "u1", TotalSessions: 4}))
	stats, err = gw.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 4, stats.TotalSessions)

	_, err = gw.UpdateProfile(ctx, domain.Profile{UserID: "u1", DisplayName: "Grip"})
	require.NoError(t, err)
	profile, err = gw.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Grip", profile.DisplayName)
}
