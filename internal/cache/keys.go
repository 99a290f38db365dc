package cache

import "time"

// Fixed keys shared by every device-local store.
const (
	QueueKey      = "offline_queue"
	DeadLetterKey = "offline_dead_letters"
	IDMapKey      = "offline_id_map"
	activitiesPfx = "USER_ACTIVITIES_"
	sessionsPfx   = "user_sessions_"
	statsPfx      = "user_stats_"
	profilePfx    = "user_profile_"
)

// Per-entity freshness windows.
const (
	ActivitiesMaxAge = 24 * time.Hour
	SessionsMaxAge   = 7 * 24 * time.Hour
	StatsMaxAge      = time.Hour
	ProfileMaxAge    = 24 * time.Hour
)

func ActivitiesKey(userID string) string { return activitiesPfx + userID }

func SessionsKey(userID string) string { return sessionsPfx + userID }

func StatsKey(userID string) string { return statsPfx + userID }

func ProfileKey(userID string) string { return profilePfx + userID }
