package remote

import (
	"time"

	"example.com/smartgrip/internal/domain"
)

type activityDocument struct {
	UserID         string              `json:"userId"`
	Name           string              `json:"name"`
	Type           domain.ActivityType `json:"type"`
	TargetTimeMs   int64               `json:"targetTimeMs,omitempty"`
	TargetDistance float64             `json:"targetDistance,omitempty"`
	WeightPerHand  float64             `json:"weightPerHand,omitempty"`
	CreatedAt      *Timestamp          `json:"createdAt,omitempty"`
	UpdatedAt      *Timestamp          `json:"updatedAt,omitempty"`
}

func toActivityDocument(a domain.Activity) activityDocument {
	return activityDocument{
		UserID:         a.UserID,
		Name:           a.Name,
		Type:           a.Type,
		TargetTimeMs:   a.TargetTime.Milliseconds(),
		TargetDistance: a.TargetDistance,
		WeightPerHand:  a.WeightPerHand,
		CreatedAt:      TimestampFromTime(a.CreatedAt),
		UpdatedAt:      TimestampFromTime(a.UpdatedAt),
	}
}

func (d activityDocument) toDomain(id string) domain.Activity {
	return domain.Activity{
		ID:             id,
		UserID:         d.UserID,
		Name:           d.Name,
		Type:           d.Type,
		TargetTime:     time.Duration(d.TargetTimeMs) * time.Millisecond,
		TargetDistance: d.TargetDistance,
		WeightPerHand:  d.WeightPerHand,
		CreatedAt:      d.CreatedAt.Time(),
		UpdatedAt:      d.UpdatedAt.Time(),
	}
}

type splitDocument struct {
	Metric string      `json:"metric"`
	Value  float64     `json:"value"`
	IsRest bool        `json:"isRest"`
	Side   domain.Side `json:"side,omitempty"`
}

type sessionDocument struct {
	UserID      string          `json:"userId"`
	ActivityID  string          `json:"activityId"`
	StartTime   *Timestamp      `json:"startTime,omitempty"`
	EndTime     *Timestamp      `json:"endTime,omitempty"`
	Completed   bool            `json:"completed"`
	TotalTimeMs int64           `json:"totalTimeMs"`
	Splits      []splitDocument `json:"splits"`
	CreatedAt   *Timestamp      `json:"createdAt,omitempty"`
}

func toSessionDocument(s domain.ActivitySession) sessionDocument {
	splits := make([]splitDocument, 0, len(s.Splits))
	for _, split := range s.Splits {
		splits = append(splits, splitDocument(split))
	}
	return sessionDocument{
		UserID:      s.UserID,
		ActivityID:  s.ActivityID,
		StartTime:   TimestampFromTime(s.StartTime),
		EndTime:     TimestampFromTime(s.EndTime),
		Completed:   s.Completed,
		TotalTimeMs: s.TotalTime.Milliseconds(),
		Splits:      splits,
		CreatedAt:   TimestampFromTime(s.CreatedAt),
	}
}

func (d sessionDocument) toDomain(id string) domain.ActivitySession {
	splits := make([]domain.Split, 0, len(d.Splits))
	for _, split := range d.Splits {
		splits = append(splits, domain.Split(split))
	}
	return domain.ActivitySession{
		ID:         id,
		UserID:     d.UserID,
		ActivityID: d.ActivityID,
		StartTime:  d.StartTime.Time(),
		EndTime:    d.EndTime.Time(),
		Completed:  d.Completed,
		TotalTime:  time.Duration(d.TotalTimeMs) * time.Millisecond,
		Splits:     splits,
		CreatedAt:  d.CreatedAt.Time(),
	}
}

type statsDocument struct {
	UserID            string     `json:"userId"`
	TotalActivities   int        `json:"totalActivities"`
	TotalSessions     int        `json:"totalSessions"`
	CompletedSessions int        `json:"completedSessions"`
	LastActiveAt      *Timestamp `json:"lastActiveAt,omitempty"`
}

func toStatsDocument(s domain.UserStats) statsDocument {
	return statsDocument{
		UserID:            s.UserID,
		TotalActivities:   s.TotalActivities,
		TotalSessions:     s.TotalSessions,
		CompletedSessions: s.CompletedSessions,
		LastActiveAt:      TimestampFromTime(s.LastActiveAt),
	}
}

func (d statsDocument) toDomain() domain.UserStats {
	return domain.UserStats{
		UserID:            d.UserID,
		TotalActivities:   d.TotalActivities,
		TotalSessions:     d.TotalSessions,
		CompletedSessions: d.CompletedSessions,
		LastActiveAt:      d.LastActiveAt.Time(),
	}
}

type profileDocument struct {
	UserID           string     `json:"userId"`
	DisplayName      string     `json:"displayName"`
	Email            string     `json:"email,omitempty"`
	Onboarded        bool       `json:"onboarded"`
	SubscriptionTier string     `json:"subscriptionTier,omitempty"`
	CreatedAt        *Timestamp `json:"createdAt,omitempty"`
	UpdatedAt        *Timestamp `json:"updatedAt,omitempty"`
}

func toProfileDocument(p domain.Profile) profileDocument {
	return profileDocument{
		UserID:           p.UserID,
		DisplayName:      p.DisplayName,
		Email:            p.Email,
		Onboarded:        p.Onboarded,
		SubscriptionTier: p.SubscriptionTier,
		CreatedAt:        TimestampFromTime(p.CreatedAt),
		UpdatedAt:        TimestampFromTime(p.UpdatedAt),
	}
}

func (d profileDocument) toDomain() domain.Profile {
	return domain.Profile{
		UserID:           d.UserID,
		DisplayName:      d.DisplayName,
		Email:            d.Email,
		Onboarded:        d.Onboarded,
		SubscriptionTier: d.SubscriptionTier,
		CreatedAt:        d.CreatedAt.Time(),
		UpdatedAt:        d.UpdatedAt.Time(),
	}
}
