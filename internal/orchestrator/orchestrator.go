// Package orchestrator coordinates the local cache, the remote gateway and the
// offline queue behind a single read/write API.
package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"example.com/smartgrip/internal/cache"
	"example.com/smartgrip/internal/domain"
	"example.com/smartgrip/internal/events"
	"example.com/smartgrip/internal/observability"
	"example.com/smartgrip/internal/outbox"
)

// OfflineIDPrefix marks ids synthesised while offline.
const OfflineIDPrefix = "offline_"

const (
	defaultSessionLimit      = 50
	defaultDeadLetterRetries = 5
	defaultDeadLetterDelay   = time.Minute
	defaultDeadLetterBatch   = 50
)

// Gateway is the remote backend as seen by the orchestrator.
type Gateway interface {
	CreateActivity(ctx context.Context, activity domain.Activity) (domain.Activity, error)
	GetUserActivities(ctx context.Context, userID string) ([]domain.Activity, error)
	UpdateActivity(ctx context.Context, activity domain.Activity) (domain.Activity, error)
	DeleteActivity(ctx context.Context, userID, id string) error
	CreateSession(ctx context.Context, session domain.ActivitySession) (domain.ActivitySession, error)
	GetUserSessions(ctx context.Context, userID string, limit int) ([]domain.ActivitySession, error)
	UpdateSession(ctx context.Context, session domain.ActivitySession) (domain.ActivitySession, error)
	DeleteSession(ctx context.Context, userID, id string) error
	GetUserStats(ctx context.Context, userID string) (*domain.UserStats, error)
	UpdateUserStats(ctx context.Context, stats domain.UserStats) error
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, profile domain.Profile) (domain.Profile, error)
}

// Option configures optional behaviour for the Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithBus shares an event bus with other components.
func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithSessionLimit sets how many sessions a refresh fetches.
func WithSessionLimit(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.sessionLimit = limit
		}
	}
}

// WithDeadLetterPolicy configures retries of failed replays.
func WithDeadLetterPolicy(maxRetries int, baseDelay time.Duration, batchSize int) Option {
	return func(o *Orchestrator) {
		o.dlqMaxRetries = maxRetries
		o.dlqBaseDelay = baseDelay
		if batchSize > 0 {
			o.dlqBatchSize = batchSize
		}
	}
}

// WithInitialOnline sets the connectivity assumed at start-up. The default is online.
func WithInitialOnline(online bool) Option {
	return func(o *Orchestrator) {
		o.online = online
	}
}

// Orchestrator is the single entry point for reads and writes. Construct one
// per process and share it.
type Orchestrator struct {
	cache       *cache.Store
	gateway     Gateway
	queue       *outbox.Queue
	deadLetters *outbox.DeadLetterStore
	dlqManager  *outbox.DeadLetterManager
	bus         *events.Bus
	logger      *zap.Logger
	now         func() time.Time

	sessionLimit  int
	dlqMaxRetries int
	dlqBaseDelay  time.Duration
	dlqBatchSize  int

	mu            sync.Mutex
	online        bool
	lastOfflineID int64

	// syncMu serialises queue drains and dead-letter retries.
	syncMu   sync.Mutex
	draining atomic.Bool
	idMu     sync.Mutex
}

// New constructs an Orchestrator, loading any queue persisted by a previous run.
func New(ctx context.Context, store *cache.Store, gateway Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cache:         store,
		gateway:       gateway,
		logger:        zap.NewNop(),
		now:           time.Now,
		sessionLimit:  defaultSessionLimit,
		dlqMaxRetries: defaultDeadLetterRetries,
		dlqBaseDelay:  defaultDeadLetterDelay,
		dlqBatchSize:  defaultDeadLetterBatch,
		online:        true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = events.NewBus(o.logger)
	}
	o.queue = outbox.OpenQueue(ctx, store)
	o.deadLetters = outbox.NewDeadLetterStore(store, o.now)
	o.dlqManager = outbox.NewDeadLetterManager(o.deadLetters, o, o.dlqMaxRetries, o.dlqBaseDelay,
		outbox.WithManagerClock(o.now),
		outbox.WithManagerLogger(o.logger),
	)
	observability.SetOnline(o.online)
	return o
}

// IsOnline reports the last connectivity state supplied via SetOnlineStatus.
func (o *Orchestrator) IsOnline() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// SetOnlineStatus records connectivity. The offline to online transition drains
// the offline queue before returning.
func (o *Orchestrator) SetOnlineStatus(ctx context.Context, online bool) error {
	o.mu.Lock()
	was := o.online
	o.online = online
	o.mu.Unlock()

	observability.SetOnline(online)
	if was == online {
		return nil
	}

	o.logger.Info("connectivity changed", zap.Bool("online", online))
	o.publish(ctx, events.TypeConnectivityChanged, "", events.ConnectivityChanged{Online: online})

	if !online {
		return nil
	}
	_, err := o.ProcessOfflineQueue(ctx)
	return err
}

// Subscribe registers h for sync events and returns its unsubscribe function.
func (o *Orchestrator) Subscribe(h events.Handler) func() {
	return o.bus.Subscribe(h)
}

// PendingActions lists the queued offline actions in replay order.
func (o *Orchestrator) PendingActions() []outbox.Action {
	return o.queue.Snapshot()
}

// DeadLetters lists failed replays, quarantined ones included.
func (o *Orchestrator) DeadLetters(ctx context.Context) []outbox.DeadLetter {
	return o.deadLetters.List(ctx)
}

// RequeueDeadLetter makes a dead letter eligible for the next retry run.
func (o *Orchestrator) RequeueDeadLetter(ctx context.Context, id string) error {
	return o.deadLetters.Requeue(ctx, id)
}

// PurgeDeadLetter drops a dead letter permanently.
func (o *Orchestrator) PurgeDeadLetter(ctx context.Context, id string) error {
	return o.deadLetters.Purge(ctx, id)
}

// nextOfflineID returns offline_<unix-millis>, bumped so ids never repeat within a process.
func (o *Orchestrator) nextOfflineID() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.now().UnixMilli()
	if id <= o.lastOfflineID {
		id = o.lastOfflineID + 1
	}
	o.lastOfflineID = id
	return OfflineIDPrefix + strconv.FormatInt(id, 10)
}

// IsOfflineID reports whether id was synthesised while offline.
func IsOfflineID(id string) bool {
	return strings.HasPrefix(id, OfflineIDPrefix)
}

func (o *Orchestrator) publish(ctx context.Context, eventType, userID string, payload any) {
	o.bus.Publish(ctx, events.Event{
		Type:       eventType,
		UserID:     userID,
		OccurredAt: o.now().UTC(),
		Payload:    payload,
	})
}
