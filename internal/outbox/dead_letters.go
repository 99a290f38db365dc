package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/smartgrip/internal/cache"
)

// ErrDeadLetterNotFound is returned for unknown dead-letter ids.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

// DeadLetter is an action whose replay failed. Quarantined entries are kept for
// inspection but never retried automatically.
type DeadLetter struct {
	Action           Action    `json:"action"`
	Reason           string    `json:"reason"`
	RetryCount       int       `json:"retryCount"`
	FailedAt         time.Time `json:"failedAt"`
	LastAttemptAt    time.Time `json:"lastAttemptAt,omitzero"`
	NextRetryAt      time.Time `json:"nextRetryAt"`
	QuarantinedAt    time.Time `json:"quarantinedAt,omitzero"`
	QuarantineReason string    `json:"quarantineReason,omitempty"`
}

// ID is the id of the failed action.
func (d DeadLetter) ID() string { return d.Action.ID }

// Quarantined reports whether automatic retries have stopped.
func (d DeadLetter) Quarantined() bool { return !d.QuarantinedAt.IsZero() }

// DeadLetterStore persists dead letters under cache.DeadLetterKey.
type DeadLetterStore struct {
	cache *cache.Store
	mu    sync.Mutex
	now   func() time.Time
}

// NewDeadLetterStore constructs a DeadLetterStore. A nil clock uses time.Now.
func NewDeadLetterStore(store *cache.Store, now func() time.Time) *DeadLetterStore {
	if now == nil {
		now = time.Now
	}
	return &DeadLetterStore{cache: store, now: now}
}

// Add records a failed action, immediately eligible for a retry.
func (s *DeadLetterStore) Add(ctx context.Context, action Action, reason string) (DeadLetter, error) {
	now := s.now().UTC()
	entry := DeadLetter{
		Action:      action,
		Reason:      reason,
		FailedAt:    now,
		NextRetryAt: now,
	}
	err := s.update(ctx, func(entries []DeadLetter) ([]DeadLetter, error) {
		for i := range entries {
			if entries[i].ID() == action.ID {
				entries[i].Reason = reason
				entries[i].FailedAt = now
				entry = entries[i]
				return entries, nil
			}
		}
		return append(entries, entry), nil
	})
	if err != nil {
		return DeadLetter{}, err
	}
	recordDeadLettered(action)
	return entry, nil
}

// List returns every dead letter, oldest first. An unreadable store lists nothing.
func (s *DeadLetterStore) List(ctx context.Context) []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.loadLocked(ctx)
	if err != nil {
		return []DeadLetter{}
	}
	return entries
}

// Due returns up to limit retryable entries whose next retry time has passed.
func (s *DeadLetterStore) Due(ctx context.Context, limit int) []DeadLetter {
	now := s.now()
	out := make([]DeadLetter, 0)
	for _, entry := range s.List(ctx) {
		if entry.Quarantined() || entry.NextRetryAt.After(now) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Requeue clears quarantine and retry state so the entry is retried on the next run.
func (s *DeadLetterStore) Requeue(ctx context.Context, id string) error {
	now := s.now().UTC()
	return s.mutate(ctx, id, func(entry *DeadLetter) {
		entry.QuarantinedAt = time.Time{}
		entry.QuarantineReason = ""
		entry.RetryCount = 0
		entry.NextRetryAt = now
	})
}

// Purge permanently drops an entry.
func (s *DeadLetterStore) Purge(ctx context.Context, id string) error {
	return s.update(ctx, func(entries []DeadLetter) ([]DeadLetter, error) {
		for i := range entries {
			if entries[i].ID() == id {
				return append(entries[:i], entries[i+1:]...), nil
			}
		}
		return nil, ErrDeadLetterNotFound
	})
}

// Rewrite applies fn to every stored action, persisting when fn reports a change.
func (s *DeadLetterStore) Rewrite(ctx context.Context, fn func(*Action) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	changed := false
	for i := range entries {
		if fn(&entries[i].Action) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persistLocked(ctx, entries)
}

func (s *DeadLetterStore) mutate(ctx context.Context, id string, fn func(*DeadLetter)) error {
	return s.update(ctx, func(entries []DeadLetter) ([]DeadLetter, error) {
		for i := range entries {
			if entries[i].ID() == id {
				fn(&entries[i])
				return entries, nil
			}
		}
		return nil, ErrDeadLetterNotFound
	})
}

func (s *DeadLetterStore) remove(ctx context.Context, id string) error {
	err := s.Purge(ctx, id)
	if errors.Is(err, ErrDeadLetterNotFound) {
		return nil
	}
	return err
}

func (s *DeadLetterStore) update(ctx context.Context, fn func([]DeadLetter) ([]DeadLetter, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	if entries, err = fn(entries); err != nil {
		return err
	}
	return s.persistLocked(ctx, entries)
}

func (s *DeadLetterStore) loadLocked(ctx context.Context) ([]DeadLetter, error) {
	var entries []DeadLetter
	if _, err := s.cache.Lookup(ctx, cache.DeadLetterKey, &entries); err != nil {
		return nil, fmt.Errorf("load dead letters: %w", err)
	}
	if entries == nil {
		entries = []DeadLetter{}
	}
	return entries, nil
}

func (s *DeadLetterStore) persistLocked(ctx context.Context, entries []DeadLetter) error {
	if err := s.cache.SetItem(ctx, cache.DeadLetterKey, entries); err != nil {
		return err
	}
	updateBacklogGauge(entries)
	return nil
}
