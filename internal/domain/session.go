package domain

import (
	"strings"
	"time"
)

// Side identifies which hand a split was recorded with, if any.
type Side string

const (
	SideNone  Side = ""
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Split is one measured interval within a session. Splits are append-only.
type Split struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	IsRest bool    `json:"isRest"`
	Side   Side    `json:"side,omitempty"`
}

// ActivitySession is one performance of an activity.
type ActivitySession struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	ActivityID string        `json:"activityId"`
	StartTime  time.Time     `json:"startTime"`
	EndTime    time.Time     `json:"endTime,omitzero"`
	Completed  bool          `json:"completed"`
	TotalTime  time.Duration `json:"totalTime"`
	Splits     []Split       `json:"splits"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Validate ensures the session references a user and an activity and has started.
func (s ActivitySession) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return invalid("userId is required")
	}
	if strings.TrimSpace(s.ActivityID) == "" {
		return invalid("activityId is required")
	}
	if s.StartTime.IsZero() {
		return invalid("startTime is required")
	}
	if !s.EndTime.IsZero() && s.EndTime.Before(s.StartTime) {
		return invalid("endTime precedes startTime")
	}
	for _, split := range s.Splits {
		if split.Side != SideNone && split.Side != SideLeft && split.Side != SideRight {
			return invalid("split side must be left or right")
		}
	}
	return nil
}

// AppendSplits adds splits after the existing ones without reordering.
func (s *ActivitySession) AppendSplits(splits ...Split) {
	s.Splits = append(s.Splits, splits...)
}
