package outbox

import (
	"context"
	"fmt"
	"sync"

	"example.com/smartgrip/internal/cache"
)

// Queue mirrors the pending actions into the cache under cache.QueueKey.
// Until the persisted queue has been read successfully every mutation
// reloads it first, so an unreadable queue is never overwritten.
type Queue struct {
	cache   *cache.Store
	mu      sync.Mutex
	actions []Action
	loaded  bool
}

// OpenQueue constructs a Queue seeded from whatever is persisted. A failed
// read is retried by the next Load or mutation.
func OpenQueue(ctx context.Context, store *cache.Store) *Queue {
	q := &Queue{cache: store}
	_, _ = q.Load(ctx)
	return q
}

// Load replaces the in-memory queue with the persisted one and returns a copy.
// On a read failure the in-memory queue is kept and the error returned.
func (q *Queue) Load(ctx context.Context) ([]Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.loadLocked(ctx); err != nil {
		return q.snapshotLocked(), err
	}
	return q.snapshotLocked(), nil
}

// Enqueue appends a and persists the queue. On a persistence failure the
// action is dropped from memory too and the error returned.
func (q *Queue) Enqueue(ctx context.Context, a Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	q.actions = append(q.actions, a)
	if err := q.persistLocked(ctx); err != nil {
		q.actions = q.actions[:len(q.actions)-1]
		return err
	}
	recordEnqueued(a)
	return nil
}

// Remove drops the actions with the given ids and persists the remainder.
func (q *Queue) Remove(ctx context.Context, ids []string) error {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	previous := q.actions
	kept := make([]Action, 0, len(q.actions))
	for _, a := range q.actions {
		if _, ok := drop[a.ID]; !ok {
			kept = append(kept, a)
		}
	}
	q.actions = kept
	if err := q.persistLocked(ctx); err != nil {
		q.actions = previous
		return err
	}
	return nil
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	previous := q.actions
	q.actions = nil
	if err := q.persistLocked(ctx); err != nil {
		q.actions = previous
		return err
	}
	q.loaded = true
	return nil
}

// Snapshot returns a copy of the queued actions in enqueue order.
func (q *Queue) Snapshot() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Len reports the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

func (q *Queue) loadLocked(ctx context.Context) error {
	var persisted []Action
	if _, err := q.cache.Lookup(ctx, cache.QueueKey, &persisted); err != nil {
		return fmt.Errorf("load offline queue: %w", err)
	}
	q.actions = persisted
	q.loaded = true
	setQueueDepth(len(q.actions))
	return nil
}

func (q *Queue) ensureLoadedLocked(ctx context.Context) error {
	if q.loaded {
		return nil
	}
	return q.loadLocked(ctx)
}

func (q *Queue) snapshotLocked() []Action {
	out := make([]Action, len(q.actions))
	copy(out, q.actions)
	return out
}

func (q *Queue) persistLocked(ctx context.Context) error {
	actions := q.actions
	if actions == nil {
		actions = []Action{}
	}
	if err := q.cache.SetItem(ctx, cache.QueueKey, actions); err != nil {
		return err
	}
	setQueueDepth(len(actions))
	return nil
}
