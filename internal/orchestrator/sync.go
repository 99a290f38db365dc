package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"example.com/smartgrip/internal/cache"
	"example.com/smartgrip/internal/domain"
	"example.com/smartgrip/internal/events"
	"example.com/smartgrip/internal/observability"
	"example.com/smartgrip/internal/outbox"
	"example.com/smartgrip/internal/remote"
)

// errUnresolvedReference marks a replay that still points at an offline id.
// The action is dead-lettered and retried once the id is reconciled.
var errUnresolvedReference = errors.New("references an unsynced offline id")

// ProcessOfflineQueue replays queued actions in enqueue order. A failed action
// is logged and moved to dead letters; the drain never stops on a failure.
// Every replayed or dead-lettered action leaves the queue. A drain requested
// while another is running returns immediately. If the persisted queue cannot
// be read, or ctx is already done, the queue is left untouched.
func (o *Orchestrator) ProcessOfflineQueue(ctx context.Context) (events.QueueDrained, error) {
	var summary events.QueueDrained
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if !o.draining.CompareAndSwap(false, true) {
		return summary, nil
	}
	defer o.draining.Store(false)

	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	actions, err := o.queue.Load(ctx)
	if err != nil {
		o.logger.Error("offline queue unreadable, drain skipped", zap.Error(err))
		return summary, err
	}
	if len(actions) == 0 {
		return summary, nil
	}

	start := o.now()
	processed := make([]string, 0, len(actions))
	perUser := make(map[string]*events.QueueDrained)

	for _, action := range actions {
		if ctx.Err() != nil {
			break
		}
		processed = append(processed, action.ID)
		counts, ok := perUser[action.UserID]
		if !ok {
			counts = &events.QueueDrained{}
			perUser[action.UserID] = counts
		}

		if err := o.Replay(ctx, action); err != nil {
			summary.DeadLettered++
			counts.DeadLettered++
			o.deadLetter(ctx, action, err)
			continue
		}
		summary.Replayed++
		counts.Replayed++
	}

	// Replayed actions must leave the queue even if ctx was cancelled mid-drain.
	if err := o.queue.Remove(context.WithoutCancel(ctx), processed); err != nil {
		o.logger.Error("offline queue persist failed after drain", zap.Error(err))
		return summary, fmt.Errorf("persist drained queue: %w", err)
	}
	outbox.ObserveDrain(o.now().Sub(start))

	for userID, counts := range perUser {
		o.refreshUser(ctx, userID)
		o.publish(ctx, events.TypeQueueDrained, userID, *counts)
	}
	o.logger.Info("offline queue drained",
		zap.Int("replayed", summary.Replayed),
		zap.Int("dead_lettered", summary.DeadLettered),
		zap.Int("remaining", o.queue.Len()),
	)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (o *Orchestrator) deadLetter(ctx context.Context, action outbox.Action, cause error) {
	o.logger.Warn("offline action replay failed",
		zap.String("action_id", action.ID),
		zap.String("type", string(action.Type)),
		zap.String("collection", action.Collection),
		zap.String("document_id", action.DocumentID),
		zap.Error(cause),
	)
	entry, err := o.deadLetters.Add(ctx, action, cause.Error())
	if err != nil {
		o.logger.Error("dead letter persist failed", zap.String("action_id", action.ID), zap.Error(err))
	}
	o.publish(ctx, events.TypeActionDeadLettered, action.UserID, events.ActionFailed{
		ActionID:   action.ID,
		ActionType: string(action.Type),
		Collection: action.Collection,
		DocumentID: action.DocumentID,
		Reason:     cause.Error(),
		RetryCount: entry.RetryCount,
	})
}

// RetryDeadLetters retries due dead letters once. It does nothing while offline.
// Actions queued behind a now-reconciled create are drained afterwards.
func (o *Orchestrator) RetryDeadLetters(ctx context.Context) (outbox.Report, error) {
	if !o.IsOnline() {
		return outbox.Report{}, nil
	}
	report, err := o.retryDeadLetters(ctx)
	if len(report.Replayed) > 0 && o.queue.Len() > 0 {
		if _, drainErr := o.ProcessOfflineQueue(ctx); drainErr != nil {
			err = errors.Join(err, drainErr)
		}
	}
	return report, err
}

func (o *Orchestrator) retryDeadLetters(ctx context.Context) (outbox.Report, error) {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	report, err := o.dlqManager.RunOnce(ctx, o.dlqBatchSize)

	users := make(map[string]struct{})
	for _, entry := range report.Replayed {
		users[entry.Action.UserID] = struct{}{}
	}
	for userID := range users {
		o.refreshUser(ctx, userID)
	}
	for _, entry := range report.Quarantined {
		o.publish(ctx, events.TypeActionQuarantined, entry.Action.UserID, events.ActionFailed{
			ActionID:   entry.ID(),
			ActionType: string(entry.Action.Type),
			Collection: entry.Action.Collection,
			DocumentID: entry.Action.DocumentID,
			Reason:     entry.Reason,
			RetryCount: entry.RetryCount,
		})
	}
	return report, err
}

// Replay applies one queued action against the gateway, substituting server
// ids for offline ids already reconciled.
func (o *Orchestrator) Replay(ctx context.Context, action outbox.Action) error {
	ids := o.loadIDMap(ctx)
	action.DocumentID = resolve(ids, action.DocumentID)
	if action.Type != outbox.ActionCreate && IsOfflineID(action.DocumentID) {
		return fmt.Errorf("%s %s: %w", action.Collection, action.DocumentID, errUnresolvedReference)
	}

	var err error
	switch action.Collection {
	case remote.CollectionActivities:
		err = o.replayActivity(ctx, action, ids)
	case remote.CollectionSessions:
		err = o.replaySession(ctx, action, ids)
	case remote.CollectionProfiles:
		err = o.replayProfile(ctx, action)
	default:
		err = fmt.Errorf("unsupported collection %q", action.Collection)
	}
	if err != nil {
		return err
	}
	outbox.RecordReplayed(action)
	return nil
}

func (o *Orchestrator) replayActivity(ctx context.Context, action outbox.Action, ids map[string]string) error {
	if action.Type == outbox.ActionDelete {
		return o.gateway.DeleteActivity(ctx, action.UserID, action.DocumentID)
	}

	var activity domain.Activity
	if err := action.Decode(&activity); err != nil {
		return fmt.Errorf("decode activity action %s: %w", action.ID, err)
	}

	switch action.Type {
	case outbox.ActionCreate:
		localID := activity.ID
		activity.ID = ""
		created, err := o.gateway.CreateActivity(ctx, activity)
		if err != nil {
			return err
		}
		o.bumpRemoteStats(ctx, created.UserID, func(s *domain.UserStats) { s.RecordActivity(created.CreatedAt) })
		o.remap(ctx, remote.CollectionActivities, created.UserID, localID, created.ID, ids)
		return nil
	case outbox.ActionUpdate:
		activity.ID = action.DocumentID
		_, err := o.gateway.UpdateActivity(ctx, activity)
		return err
	}
	return fmt.Errorf("unsupported action type %q", action.Type)
}

func (o *Orchestrator) replaySession(ctx context.Context, action outbox.Action, ids map[string]string) error {
	if action.Type == outbox.ActionDelete {
		return o.gateway.DeleteSession(ctx, action.UserID, action.DocumentID)
	}

	var session domain.ActivitySession
	if err := action.Decode(&session); err != nil {
		return fmt.Errorf("decode session action %s: %w", action.ID, err)
	}
	session.ActivityID = resolve(ids, session.ActivityID)
	if IsOfflineID(session.ActivityID) {
		return fmt.Errorf("session activity %s: %w", session.ActivityID, errUnresolvedReference)
	}

	switch action.Type {
	case outbox.ActionCreate:
		localID := session.ID
		session.ID = ""
		created, err := o.gateway.CreateSession(ctx, session)
		if err != nil {
			return err
		}
		o.bumpRemoteStats(ctx, created.UserID, func(s *domain.UserStats) { s.RecordSession(created, created.CreatedAt) })
		o.remap(ctx, remote.CollectionSessions, created.UserID, localID, created.ID, ids)
		return nil
	case outbox.ActionUpdate:
		session.ID = action.DocumentID
		_, err := o.gateway.UpdateSession(ctx, session)
		return err
	}
	return fmt.Errorf("unsupported action type %q", action.Type)
}

func (o *Orchestrator) replayProfile(ctx context.Context, action outbox.Action) error {
	if action.Type != outbox.ActionUpdate {
		return fmt.Errorf("unsupported action type %q for profiles", action.Type)
	}
	var profile domain.Profile
	if err := action.Decode(&profile); err != nil {
		return fmt.Errorf("decode profile action %s: %w", action.ID, err)
	}
	updated, err := o.gateway.UpdateProfile(ctx, profile)
	if err != nil {
		return err
	}
	o.storeQuietly(ctx, cache.ProfileKey(updated.UserID), updated)
	return nil
}

// remap records localID -> serverID, rewrites cached records and stored dead
// letters that still carry the local id, and notifies subscribers.
func (o *Orchestrator) remap(ctx context.Context, collection, userID, localID, serverID string, ids map[string]string) {
	if localID == "" || localID == serverID {
		return
	}
	ids[localID] = serverID
	o.saveIDMapping(ctx, localID, serverID)

	swap := func(id string) string {
		if id == localID {
			return serverID
		}
		return id
	}

	if _, err := cache.Patch(ctx, o.cache, cache.ActivitiesKey(userID), func(list *[]domain.Activity) {
		for i := range *list {
			(*list)[i].ID = swap((*list)[i].ID)
		}
	}); err != nil {
		o.logger.Warn("cached activity remap failed", zap.String("user_id", userID), zap.Error(err))
	}
	if _, err := cache.Patch(ctx, o.cache, cache.SessionsKey(userID), func(list *[]domain.ActivitySession) {
		for i := range *list {
			(*list)[i].ID = swap((*list)[i].ID)
			(*list)[i].ActivityID = swap((*list)[i].ActivityID)
		}
	}); err != nil {
		o.logger.Warn("cached session remap failed", zap.String("user_id", userID), zap.Error(err))
	}

	if err := o.deadLetters.Rewrite(ctx, func(a *outbox.Action) bool {
		if a.DocumentID != localID {
			return false
		}
		a.DocumentID = serverID
		return true
	}); err != nil {
		o.logger.Warn("dead letter remap failed", zap.Error(err))
	}

	observability.RecordIDRemap(collection)
	o.logger.Info("offline id reconciled",
		zap.String("collection", collection),
		zap.String("local_id", localID),
		zap.String("server_id", serverID),
	)
	o.publish(ctx, events.TypeIDRemapped, userID, events.IDRemapped{
		Collection: collection,
		LocalID:    localID,
		ServerID:   serverID,
	})
}

// resolveID maps an offline id to its server id when one is known.
func (o *Orchestrator) resolveID(ctx context.Context, id string) string {
	if !IsOfflineID(id) {
		return id
	}
	return resolve(o.loadIDMap(ctx), id)
}

func resolve(ids map[string]string, id string) string {
	if serverID, ok := ids[id]; ok {
		return serverID
	}
	return id
}

func (o *Orchestrator) loadIDMap(ctx context.Context) map[string]string {
	o.idMu.Lock()
	defer o.idMu.Unlock()

	ids, ok := cache.Get[map[string]string](ctx, o.cache, cache.IDMapKey, 0)
	if !ok || ids == nil {
		return make(map[string]string)
	}
	return ids
}

func (o *Orchestrator) saveIDMapping(ctx context.Context, localID, serverID string) {
	o.idMu.Lock()
	defer o.idMu.Unlock()

	ids, ok := cache.Get[map[string]string](ctx, o.cache, cache.IDMapKey, 0)
	if !ok || ids == nil {
		ids = make(map[string]string)
	}
	ids[localID] = serverID
	if err := o.cache.SetItem(ctx, cache.IDMapKey, ids); err != nil {
		o.logger.Error("id map persist failed", zap.String("local_id", localID), zap.Error(err))
	}
}
