package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"example.com/smartgrip/internal/cache"
	"example.com/smartgrip/internal/domain"
	"example.com/smartgrip/internal/observability"
)

// readThrough serves key from cache when fresh, otherwise fetches and recaches
// when online, and falls back to whatever is cached (any age) when the network
// path is unavailable. It never returns an error.
func readThrough[T any](ctx context.Context, o *Orchestrator, entity, key string, maxAge time.Duration, forceRefresh bool, fetch func(context.Context) (T, error)) (T, bool) {
	cached, fresh, found := cache.Peek[T](ctx, o.cache, key, maxAge)
	if found && fresh && !forceRefresh {
		return cached, true
	}

	if o.IsOnline() {
		value, err := fetch(ctx)
		if err == nil {
			o.storeQuietly(ctx, key, value)
			return value, true
		}
		o.logger.Warn("remote read failed, using cache", zap.String("entity", entity), zap.String("key", key), zap.Error(err))
	}

	observability.RecordStaleFallback(entity)
	return cached, found
}

// storeQuietly writes value to the cache, logging failures.
func (o *Orchestrator) storeQuietly(ctx context.Context, key string, value any) {
	if err := o.cache.SetItem(ctx, key, value); err != nil {
		o.logger.Warn("cache refresh failed", zap.String("key", key), zap.Error(err))
	}
}

// GetUserActivities returns the user's activities, newest first.
func (o *Orchestrator) GetUserActivities(ctx context.Context, userID string, forceRefresh bool) []domain.Activity {
	activities, _ := readThrough(ctx, o, "activities", cache.ActivitiesKey(userID), cache.ActivitiesMaxAge, forceRefresh,
		func(ctx context.Context) ([]domain.Activity, error) {
			return o.gateway.GetUserActivities(ctx, userID)
		})
	if activities == nil {
		return []domain.Activity{}
	}
	return activities
}

// GetUserSessions returns up to limit sessions, newest first. limit <= 0 uses the configured default.
// The cache always holds at least the configured default, so smaller limits are
// served from it; a larger limit refetches when the cached list may be truncated.
func (o *Orchestrator) GetUserSessions(ctx context.Context, userID string, limit int, forceRefresh bool) []domain.ActivitySession {
	if limit <= 0 {
		limit = o.sessionLimit
	}
	depth := max(limit, o.sessionLimit)
	key := cache.SessionsKey(userID)
	if !forceRefresh && limit > o.sessionLimit {
		if cached, fresh, found := cache.Peek[[]domain.ActivitySession](ctx, o.cache, key, cache.SessionsMaxAge); found && fresh {
			forceRefresh = len(cached) < limit && len(cached) >= o.sessionLimit
		}
	}
	sessions, _ := readThrough(ctx, o, "sessions", key, cache.SessionsMaxAge, forceRefresh,
		func(ctx context.Context) ([]domain.ActivitySession, error) {
			return o.gateway.GetUserSessions(ctx, userID, depth)
		})
	if sessions == nil {
		return []domain.ActivitySession{}
	}
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions
}

// GetUserStats returns the user's stats, or zero counters when none are known.
func (o *Orchestrator) GetUserStats(ctx context.Context, userID string, forceRefresh bool) domain.UserStats {
	stats, ok := readThrough(ctx, o, "stats", cache.StatsKey(userID), cache.StatsMaxAge, forceRefresh,
		func(ctx context.Context) (domain.UserStats, error) {
			remote, err := o.gateway.GetUserStats(ctx, userID)
			if err != nil {
				return domain.UserStats{}, err
			}
			if remote == nil {
				return domain.UserStats{UserID: userID}, nil
			}
			return *remote, nil
		})
	if !ok {
		return domain.UserStats{UserID: userID}
	}
	return stats
}

// GetProfile returns the user's profile or nil when none exists.
func (o *Orchestrator) GetProfile(ctx context.Context, userID string, forceRefresh bool) *domain.Profile {
	profile, _ := readThrough(ctx, o, "profile", cache.ProfileKey(userID), cache.ProfileMaxAge, forceRefresh,
		func(ctx context.Context) (*domain.Profile, error) {
			return o.gateway.GetProfile(ctx, userID)
		})
	return profile
}

// refreshActivities re-fetches the whole collection into the cache.
func (o *Orchestrator) refreshActivities(ctx context.Context, userID string) {
	activities, err := o.gateway.GetUserActivities(ctx, userID)
	if err != nil {
		o.logger.Warn("activity refresh failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	o.storeQuietly(ctx, cache.ActivitiesKey(userID), activities)
}

func (o *Orchestrator) refreshSessions(ctx context.Context, userID string) {
	sessions, err := o.gateway.GetUserSessions(ctx, userID, o.sessionLimit)
	if err != nil {
		o.logger.Warn("session refresh failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	o.storeQuietly(ctx, cache.SessionsKey(userID), sessions)
}

func (o *Orchestrator) refreshStats(ctx context.Context, userID string) {
	stats, err := o.gateway.GetUserStats(ctx, userID)
	if err != nil {
		o.logger.Warn("stats refresh failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if stats == nil {
		stats = &domain.UserStats{UserID: userID}
	}
	o.storeQuietly(ctx, cache.StatsKey(userID), stats)
}

func (o *Orchestrator) refreshUser(ctx context.Context, userID string) {
	o.refreshActivities(ctx, userID)
	o.refreshSessions(ctx, userID)
	o.refreshStats(ctx, userID)
}
