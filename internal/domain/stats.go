package domain

import "time"

// UserStats holds aggregate counters for a user. The zero value means no stats yet.
type UserStats struct {
	UserID            string    `json:"userId"`
	TotalActivities   int       `json:"totalActivities"`
	TotalSessions     int       `json:"totalSessions"`
	CompletedSessions int       `json:"completedSessions"`
	LastActiveAt      time.Time `json:"lastActiveAt,omitzero"`
}

// RecordActivity bumps the activity counter.
func (s *UserStats) RecordActivity(at time.Time) {
	s.TotalActivities++
	s.touch(at)
}

// RecordSession bumps the session counters.
func (s *UserStats) RecordSession(session ActivitySession, at time.Time) {
	s.TotalSessions++
	if session.Completed {
		s.CompletedSessions++
	}
	s.touch(at)
}

func (s *UserStats) touch(at time.Time) {
	if at.After(s.LastActiveAt) {
		s.LastActiveAt = at
	}
}

// Profile is the user's account document.
type Profile struct {
	UserID           string    `json:"userId"`
	DisplayName      string    `json:"displayName"`
	Email            string    `json:"email,omitempty"`
	Onboarded        bool      `json:"onboarded"`
	SubscriptionTier string    `json:"subscriptionTier,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Validate requires the owning user id.
func (p Profile) Validate() error {
	if p.UserID == "" {
		return invalid("userId is required")
	}
	return nil
}
