// Package domain defines the grip-training records synchronised by the data layer.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation is wrapped by every Validate failure.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a record cannot be located.
	ErrNotFound = errors.New("record not found")
)

// ActivityType enumerates the supported grip exercises.
type ActivityType string

const (
	ActivityTypeHang           ActivityType = "hang"
	ActivityTypeFarmerWalk     ActivityType = "farmer-walk"
	ActivityTypeDynamometer    ActivityType = "dynamometer"
	ActivityTypeAttiaChallenge ActivityType = "attia-challenge"
)

// Valid reports whether t is one of the known activity types.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityTypeHang, ActivityTypeFarmerWalk, ActivityTypeDynamometer, ActivityTypeAttiaChallenge:
		return true
	}
	return false
}

// Activity is a user-defined exercise template.
type Activity struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	Name           string        `json:"name"`
	Type           ActivityType  `json:"type"`
	TargetTime     time.Duration `json:"targetTime,omitempty"`
	TargetDistance float64       `json:"targetDistance,omitempty"`
	WeightPerHand  float64       `json:"weightPerHand,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Validate checks the fields required for the activity's type.
func (a Activity) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return invalid("userId is required")
	}
	if !a.Type.Valid() {
		return invalid(fmt.Sprintf("unknown activity type %q", a.Type))
	}
	switch a.Type {
	case ActivityTypeHang, ActivityTypeAttiaChallenge:
		if a.TargetTime <= 0 {
			return invalid("targetTime must be > 0")
		}
	case ActivityTypeFarmerWalk:
		if a.TargetDistance <= 0 {
			return invalid("targetDistance must be > 0")
		}
		if a.WeightPerHand <= 0 {
			return invalid("weightPerHand must be > 0")
		}
	}
	return nil
}

func invalid(detail string) error {
	return fmt.Errorf("%w: %s", ErrValidation, detail)
}
