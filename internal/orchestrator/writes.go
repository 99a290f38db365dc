package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/smartgrip/internal/cache"
	"example.com/smartgrip/internal/domain"
	"example.com/smartgrip/internal/outbox"
	"example.com/smartgrip/internal/remote"
)

// CreateActivity stores a new activity. Offline, the activity gets an offline
// id, is queued for replay and returned immediately.
func (o *Orchestrator) CreateActivity(ctx context.Context, activity domain.Activity) (domain.Activity, error) {
	if err := activity.Validate(); err != nil {
		return domain.Activity{}, err
	}
	now := o.now().UTC()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = now
	}
	activity.UpdatedAt = now

	if !o.IsOnline() {
		activity.ID = o.nextOfflineID()
		if err := o.enqueue(ctx, outbox.ActionCreate, remote.CollectionActivities, activity.ID, activity.UserID, activity); err != nil {
			return domain.Activity{}, err
		}
		upsertCached(ctx, o, cache.ActivitiesKey(activity.UserID), activity, func(a domain.Activity) string { return a.ID })
		o.patchCachedStats(ctx, activity.UserID, func(s *domain.UserStats) { s.RecordActivity(now) })
		return activity, nil
	}

	activity.ID = ""
	created, err := o.gateway.CreateActivity(ctx, activity)
	if err != nil {
		return domain.Activity{}, err
	}
	o.bumpRemoteStats(ctx, created.UserID, func(s *domain.UserStats) { s.RecordActivity(now) })
	o.refreshActivities(ctx, created.UserID)
	o.refreshStats(ctx, created.UserID)
	return created, nil
}

// UpdateActivity replaces an activity. Activities still carrying an offline id
// are queued even when online so they replay after their create.
func (o *Orchestrator) UpdateActivity(ctx context.Context, activity domain.Activity) (domain.Activity, error) {
	if activity.ID == "" {
		return domain.Activity{}, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if err := activity.Validate(); err != nil {
		return domain.Activity{}, err
	}
	activity.ID = o.resolveID(ctx, activity.ID)
	activity.UpdatedAt = o.now().UTC()

	if !o.IsOnline() || IsOfflineID(activity.ID) {
		if err := o.enqueue(ctx, outbox.ActionUpdate, remote.CollectionActivities, activity.ID, activity.UserID, activity); err != nil {
			return domain.Activity{}, err
		}
		upsertCached(ctx, o, cache.ActivitiesKey(activity.UserID), activity, func(a domain.Activity) string { return a.ID })
		return activity, nil
	}

	updated, err := o.gateway.UpdateActivity(ctx, activity)
	if err != nil {
		return domain.Activity{}, err
	}
	o.refreshActivities(ctx, updated.UserID)
	return updated, nil
}

// CreateSession stores a session together with its splits. A session whose
// activity has not reached the server yet is queued even when online, so it
// is only created once the activity id is reconciled.
func (o *Orchestrator) CreateSession(ctx context.Context, session domain.ActivitySession) (domain.ActivitySession, error) {
	if err := session.Validate(); err != nil {
		return domain.ActivitySession{}, err
	}
	now := o.now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.Splits == nil {
		session.Splits = []domain.Split{}
	}
	session.ActivityID = o.resolveID(ctx, session.ActivityID)

	if !o.IsOnline() || IsOfflineID(session.ActivityID) {
		session.ID = o.nextOfflineID()
		if err := o.enqueue(ctx, outbox.ActionCreate, remote.CollectionSessions, session.ID, session.UserID, session); err != nil {
			return domain.ActivitySession{}, err
		}
		upsertCached(ctx, o, cache.SessionsKey(session.UserID), session, func(s domain.ActivitySession) string { return s.ID })
		o.patchCachedStats(ctx, session.UserID, func(s *domain.UserStats) { s.RecordSession(session, now) })
		return session, nil
	}

	session.ID = ""
	created, err := o.gateway.CreateSession(ctx, session)
	if err != nil {
		return domain.ActivitySession{}, err
	}
	o.bumpRemoteStats(ctx, created.UserID, func(s *domain.UserStats) { s.RecordSession(created, now) })
	o.refreshSessions(ctx, created.UserID)
	o.refreshStats(ctx, created.UserID)
	return created, nil
}

// UpdateSession replaces a session, splits included.
func (o *Orchestrator) UpdateSession(ctx context.Context, session domain.ActivitySession) (domain.ActivitySession, error) {
	if session.ID == "" {
		return domain.ActivitySession{}, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if err := session.Validate(); err != nil {
		return domain.ActivitySession{}, err
	}
	session.ID = o.resolveID(ctx, session.ID)
	session.ActivityID = o.resolveID(ctx, session.ActivityID)

	if !o.IsOnline() || IsOfflineID(session.ID) {
		if err := o.enqueue(ctx, outbox.ActionUpdate, remote.CollectionSessions, session.ID, session.UserID, session); err != nil {
			return domain.ActivitySession{}, err
		}
		upsertCached(ctx, o, cache.SessionsKey(session.UserID), session, func(s domain.ActivitySession) string { return s.ID })
		return session, nil
	}

	updated, err := o.gateway.UpdateSession(ctx, session)
	if err != nil {
		return domain.ActivitySession{}, err
	}
	o.refreshSessions(ctx, updated.UserID)
	return updated, nil
}

// AppendSplits adds splits to the end of an existing session.
func (o *Orchestrator) AppendSplits(ctx context.Context, userID, sessionID string, splits ...domain.Split) (domain.ActivitySession, error) {
	session, ok := o.findSession(ctx, userID, o.resolveID(ctx, sessionID))
	if !ok {
		return domain.ActivitySession{}, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	session.AppendSplits(splits...)
	return o.UpdateSession(ctx, session)
}

func (o *Orchestrator) findSession(ctx context.Context, userID, sessionID string) (domain.ActivitySession, bool) {
	sessions, _ := cache.Get[[]domain.ActivitySession](ctx, o.cache, cache.SessionsKey(userID), 0)
	for _, s := range sessions {
		if s.ID == sessionID {
			return s, true
		}
	}
	if !o.IsOnline() {
		return domain.ActivitySession{}, false
	}
	for _, s := range o.GetUserSessions(ctx, userID, o.sessionLimit, true) {
		if s.ID == sessionID {
			return s, true
		}
	}
	return domain.ActivitySession{}, false
}

// DeleteSession removes a session.
func (o *Orchestrator) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	sessionID = o.resolveID(ctx, sessionID)

	if !o.IsOnline() || IsOfflineID(sessionID) {
		if err := o.enqueue(ctx, outbox.ActionDelete, remote.CollectionSessions, sessionID, userID, nil); err != nil {
			return err
		}
		removeCached(ctx, o, cache.SessionsKey(userID), sessionID, func(s domain.ActivitySession) string { return s.ID })
		return nil
	}

	if err := o.gateway.DeleteSession(ctx, userID, sessionID); err != nil {
		return err
	}
	o.refreshSessions(ctx, userID)
	return nil
}

// UpdateProfile writes the user's profile.
func (o *Orchestrator) UpdateProfile(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	if err := profile.Validate(); err != nil {
		return domain.Profile{}, err
	}
	if !o.IsOnline() {
		profile.UpdatedAt = o.now().UTC()
		if err := o.enqueue(ctx, outbox.ActionUpdate, remote.CollectionProfiles, profile.UserID, profile.UserID, profile); err != nil {
			return domain.Profile{}, err
		}
		o.storeQuietly(ctx, cache.ProfileKey(profile.UserID), profile)
		return profile, nil
	}

	updated, err := o.gateway.UpdateProfile(ctx, profile)
	if err != nil {
		return domain.Profile{}, err
	}
	o.storeQuietly(ctx, cache.ProfileKey(updated.UserID), updated)
	return updated, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, actionType outbox.ActionType, collection, documentID, userID string, data any) error {
	action, err := outbox.NewAction(actionType, collection, documentID, userID, data, o.now())
	if err != nil {
		return err
	}
	if err := o.queue.Enqueue(ctx, action); err != nil {
		return fmt.Errorf("queue %s %s: %w", actionType, collection, err)
	}
	o.logger.Debug("queued offline action",
		zap.String("action_id", action.ID),
		zap.String("type", string(actionType)),
		zap.String("collection", collection),
		zap.String("document_id", documentID),
	)
	return nil
}

// upsertCached replaces the item with the same id in a cached list, or
// prepends it. The entry keeps its timestamp; when nothing is cached yet the
// list is written already stale so the next online read still fetches.
func upsertCached[T any](ctx context.Context, o *Orchestrator, key string, item T, id func(T) string) {
	patched, err := cache.Patch(ctx, o.cache, key, func(list *[]T) {
		for i := range *list {
			if id((*list)[i]) == id(item) {
				(*list)[i] = item
				return
			}
		}
		*list = append([]T{item}, *list...)
	})
	if err != nil {
		o.logger.Warn("optimistic cache update failed", zap.String("key", key), zap.Error(err))
		return
	}
	if patched {
		return
	}
	if err := o.cache.SetItemAt(ctx, key, []T{item}, time.UnixMilli(0)); err != nil {
		o.logger.Warn("optimistic cache update failed", zap.String("key", key), zap.Error(err))
	}
}

func removeCached[T any](ctx context.Context, o *Orchestrator, key, itemID string, id func(T) string) {
	_, err := cache.Patch(ctx, o.cache, key, func(list *[]T) {
		kept := (*list)[:0]
		for _, item := range *list {
			if id(item) != itemID {
				kept = append(kept, item)
			}
		}
		*list = kept
	})
	if err != nil {
		o.logger.Warn("optimistic cache update failed", zap.String("key", key), zap.Error(err))
	}
}

func (o *Orchestrator) patchCachedStats(ctx context.Context, userID string, fn func(*domain.UserStats)) {
	if _, err := cache.Patch(ctx, o.cache, cache.StatsKey(userID), fn); err != nil {
		o.logger.Warn("optimistic stats update failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// bumpRemoteStats applies fn to the backend stats document. Failures are
// logged; the write that triggered the bump has already succeeded.
func (o *Orchestrator) bumpRemoteStats(ctx context.Context, userID string, fn func(*domain.UserStats)) {
	stats, err := o.gateway.GetUserStats(ctx, userID)
	if err != nil {
		o.logger.Warn("stats bump skipped", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if stats == nil {
		stats = &domain.UserStats{UserID: userID}
	}
	fn(stats)
	if err := o.gateway.UpdateUserStats(ctx, *stats); err != nil {
		o.logger.Warn("stats bump failed", zap.String("user_id", userID), zap.Error(err))
	}
}
