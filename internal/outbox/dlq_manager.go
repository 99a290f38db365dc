package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Replayer re-applies an action against the remote backend.
type Replayer interface {
	Replay(ctx context.Context, action Action) error
}

// Report lists what a RunOnce pass did with each due entry.
type Report struct {
	Replayed    []DeadLetter
	Rescheduled []DeadLetter
	Quarantined []DeadLetter
}

// ManagerOption configures optional behaviour for the DeadLetterManager.
type ManagerOption func(*DeadLetterManager)

// WithManagerLogger overrides the logger used to report retries.
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *DeadLetterManager) {
		m.logger = logger
	}
}

// WithManagerClock overrides the time source used to schedule retries.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *DeadLetterManager) {
		m.now = now
	}
}

// DeadLetterManager retries dead letters with exponential backoff and
// quarantines entries that exhaust their retries.
type DeadLetterManager struct {
	store      *DeadLetterStore
	replayer   Replayer
	maxRetries int
	baseDelay  time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewDeadLetterManager constructs a DeadLetterManager with the provided retry configuration.
func NewDeadLetterManager(store *DeadLetterStore, replayer Replayer, maxRetries int, baseDelay time.Duration, opts ...ManagerOption) *DeadLetterManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	m := &DeadLetterManager{
		store:      store,
		replayer:   replayer,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOnce processes up to batchSize due entries.
func (m *DeadLetterManager) RunOnce(ctx context.Context, batchSize int) (Report, error) {
	var (
		report Report
		err    error
	)
	for _, entry := range m.store.Due(ctx, batchSize) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, errors.Join(err, ctxErr)
		}
		outcome, handleErr := m.handleEntry(ctx, entry)
		if handleErr != nil {
			err = errors.Join(err, handleErr)
			continue
		}
		switch {
		case outcome.Quarantined():
			report.Quarantined = append(report.Quarantined, outcome)
		case outcome.RetryCount > entry.RetryCount:
			report.Rescheduled = append(report.Rescheduled, outcome)
		default:
			report.Replayed = append(report.Replayed, outcome)
		}
	}
	return report, err
}

// handleEntry applies retry/quarantine logic for a single entry.
func (m *DeadLetterManager) handleEntry(ctx context.Context, entry DeadLetter) (DeadLetter, error) {
	now := m.now().UTC()

	if entry.RetryCount >= m.maxRetries {
		entry.QuarantinedAt = now
		entry.QuarantineReason = "retry limit reached"
		if err := m.store.mutate(ctx, entry.ID(), func(stored *DeadLetter) {
			stored.QuarantinedAt = entry.QuarantinedAt
			stored.QuarantineReason = entry.QuarantineReason
		}); err != nil {
			return DeadLetter{}, err
		}
		m.logger.Warn("dead letter quarantined",
			zap.String("action_id", entry.ID()),
			zap.String("collection", entry.Action.Collection),
			zap.Int("retry_count", entry.RetryCount),
		)
		recordDLQQuarantined(entry.Action)
		return entry, nil
	}

	if replayErr := m.replayer.Replay(ctx, entry.Action); replayErr != nil {
		entry.RetryCount++
		entry.LastAttemptAt = now
		entry.NextRetryAt = now.Add(m.backoffDelay(entry.RetryCount))
		entry.Reason = replayErr.Error()
		if err := m.store.mutate(ctx, entry.ID(), func(stored *DeadLetter) {
			stored.RetryCount = entry.RetryCount
			stored.LastAttemptAt = entry.LastAttemptAt
			stored.NextRetryAt = entry.NextRetryAt
			stored.Reason = entry.Reason
		}); err != nil {
			return DeadLetter{}, err
		}
		m.logger.Info("dead letter retry failed",
			zap.String("action_id", entry.ID()),
			zap.Int("retry_count", entry.RetryCount),
			zap.Time("next_retry_at", entry.NextRetryAt),
			zap.Error(replayErr),
		)
		recordDLQRetry(entry.Action)
		return entry, nil
	}

	if err := m.store.remove(ctx, entry.ID()); err != nil {
		return DeadLetter{}, err
	}
	recordDLQProcessed(entry.Action)
	return entry, nil
}

// backoffDelay calculates exponential backoff capped at one hour.
func (m *DeadLetterManager) backoffDelay(attempt int) time.Duration {
	const maxDelay = time.Hour
	if attempt < 1 {
		attempt = 1
	}
	if m.baseDelay >= maxDelay {
		return maxDelay
	}
	delay := m.baseDelay
	for i := 1; i < attempt; i++ {
		if delay >= maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	return delay
}
