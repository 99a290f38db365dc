package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActivityValidateByType(t *testing.T) {
	hang := Activity{UserID: "u1", Name: "Dead hang", Type: ActivityTypeHang}
	require.ErrorIs(t, hang.Validate(), ErrValidation)

	hang.TargetTime = 60 * time.Second
	require.NoError(t, hang.Validate())

	walk := Activity{UserID: "u1", Type: ActivityTypeFarmerWalk, TargetDistance: 40}
	require.ErrorIs(t, walk.Validate(), ErrValidation)
	walk.WeightPerHand = 32
	require.NoError(t, walk.Validate())

	require.NoError(t, Activity{UserID: "u1", Type: ActivityTypeDynamometer}.Validate())
	require.ErrorIs(t, Activity{UserID: "u1", Type: "pushup"}.Validate(), ErrValidation)
	require.ErrorIs(t, Activity{Type: ActivityTypeDynamometer}.Validate(), ErrValidation)
}

func TestSessionAppendSplitsKeepsOrder(t *testing.T) {
	session := ActivitySession{UserID: "u1", ActivityID: "a1", StartTime: time.Now()}
	session.AppendSplits(Split{Metric: "time", Value: 30, Side: SideLeft})
	session.AppendSplits(Split{Metric: "rest", Value: 10, IsRest: true}, Split{Metric: "time", Value: 28, Side: SideRight})

	require.Len(t, session.Splits, 3)
	require.Equal(t, SideLeft, session.Splits[0].Side)
	require.True(t, session.Splits[1].IsRest)
	require.Equal(t, 28.0, session.Splits[2].Value)
	require.NoError(t, session.Validate())

	session.Splits = append(session.Splits, Split{Side: "middle"})
	require.ErrorIs(t, session.Validate(), ErrValidation)
}

func TestStatsRecordSession(t *testing.T) {
	var stats UserStats
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	stats.RecordSession(ActivitySession{Completed: true}, at)
	stats.RecordSession(ActivitySession{}, at.Add(-time.Hour))
	stats.RecordActivity(at.Add(-2 * time.Hour))

	require.Equal(t, 2, stats.TotalSessions)
	require.Equal(t, 1, stats.CompletedSessions)
	require.Equal(t, 1, stats.TotalActivities)
	require.Equal(t, at, stats.LastActiveAt)
}
