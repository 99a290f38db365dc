package remote

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"example.com/smartgrip/internal/domain"
	"example.com/smartgrip/internal/observability"
)

// Option configures optional behaviour for the Gateway.
type Option func(*Gateway)

// WithLogger overrides the logger used to report failures.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// Gateway maps domain records onto backend documents. It holds no state and
// does not retry; every failure is logged and returned as *Error.
type Gateway struct {
	store  DocumentStore
	logger *zap.Logger
	now    func() time.Time
}

// NewGateway constructs a Gateway over store.
func NewGateway(store DocumentStore, opts ...Option) *Gateway {
	g := &Gateway{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) fail(verb, entity string, err error) error {
	gwErr := &Error{Verb: verb, Entity: entity, Err: err}
	g.logger.Error("gateway operation failed",
		zap.String("operation", gwErr.Operation()),
		zap.Error(err),
	)
	observability.RecordGatewayError(gwErr.Operation())
	return gwErr
}

func (g *Gateway) stamp() time.Time {
	return g.now().UTC().Truncate(time.Millisecond)
}

// CreateActivity stores a new activity and returns it with its server id.
func (g *Gateway) CreateActivity(ctx context.Context, activity domain.Activity) (domain.Activity, error) {
	now := g.stamp()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = now
	}
	activity.UpdatedAt = now

	data, err := json.Marshal(toActivityDocument(activity))
	if err != nil {
		return domain.Activity{}, g.fail("create", "activity", err)
	}
	id, err := g.store.Add(ctx, CollectionActivities, Document{UserID: activity.UserID, SortAt: activity.CreatedAt, Data: data})
	if err != nil {
		return domain.Activity{}, g.fail("create", "activity", err)
	}
	activity.ID = id
	return activity, nil
}

// GetUserActivities returns the user's activities, newest first.
func (g *Gateway) GetUserActivities(ctx context.Context, userID string) ([]domain.Activity, error) {
	docs, err := g.store.QueryByUser(ctx, CollectionActivities, userID, 0)
	if err != nil {
		return nil, g.fail("fetch", "activities", err)
	}
	out := make([]domain.Activity, 0, len(docs))
	for _, doc := range docs {
		var decoded activityDocument
		if err := json.Unmarshal(doc.Data, &decoded); err != nil {
			return nil, g.fail("fetch", "activities", err)
		}
		activity := decoded.toDomain(doc.ID)
		if activity.CreatedAt.IsZero() {
			activity.CreatedAt = doc.CreatedAt
		}
		out = append(out, activity)
	}
	return out, nil
}

// UpdateActivity replaces an existing activity owned by activity.UserID.
func (g *Gateway) UpdateActivity(ctx context.Context, activity domain.Activity) (domain.Activity, error) {
	activity.UpdatedAt = g.stamp()
	data, err := json.Marshal(toActivityDocument(activity))
	if err != nil {
		return domain.Activity{}, g.fail("update", "activity", err)
	}
	doc := Document{ID: activity.ID, UserID: activity.UserID, SortAt: activity.CreatedAt, Data: data}
	if err := g.store.Update(ctx, CollectionActivities, doc); err != nil {
		return domain.Activity{}, g.fail("update", "activity", err)
	}
	return activity, nil
}

// DeleteActivity removes one of userID's activities.
func (g *Gateway) DeleteActivity(ctx context.Context, userID, id string) error {
	if err := g.store.Delete(ctx, CollectionActivities, userID, id); err != nil {
		return g.fail("delete", "activity", err)
	}
	return nil
}

// CreateSession stores a session together with its splits.
func (g *Gateway) CreateSession(ctx context.Context, session domain.ActivitySession) (domain.ActivitySession, error) {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = g.stamp()
	}
	data, err := json.Marshal(toSessionDocument(session))
	if err != nil {
		return domain.ActivitySession{}, g.fail("create", "session", err)
	}
	id, err := g.store.Add(ctx, CollectionSessions, Document{UserID: session.UserID, SortAt: session.StartTime, Data: data})
	if err != nil {
		return domain.ActivitySession{}, g.fail("create", "session", err)
	}
	session.ID = id
	if session.Splits == nil {
		session.Splits = []domain.Split{}
	}
	return session, nil
}

// GetUserSessions returns up to limit sessions ordered by start time descending.
func (g *Gateway) GetUserSessions(ctx context.Context, userID string, limit int) ([]domain.ActivitySession, error) {
	docs, err := g.store.QueryByUser(ctx, CollectionSessions, userID, limit)
	if err != nil {
		return nil, g.fail("fetch", "sessions", err)
	}
	out := make([]domain.ActivitySession, 0, len(docs))
	for _, doc := range docs {
		var decoded sessionDocument
		if err := json.Unmarshal(doc.Data, &decoded); err != nil {
			return nil, g.fail("fetch", "sessions", err)
		}
		session := decoded.toDomain(doc.ID)
		if session.CreatedAt.IsZero() {
			session.CreatedAt = doc.CreatedAt
		}
		out = append(out, session)
	}
	return out, nil
}

// UpdateSession replaces an existing session owned by session.UserID, splits included.
func (g *Gateway) UpdateSession(ctx context.Context, session domain.ActivitySession) (domain.ActivitySession, error) {
	data, err := json.Marshal(toSessionDocument(session))
	if err != nil {
		return domain.ActivitySession{}, g.fail("update", "session", err)
	}
	doc := Document{ID: session.ID, UserID: session.UserID, SortAt: session.StartTime, Data: data}
	if err := g.store.Update(ctx, CollectionSessions, doc); err != nil {
		return domain.ActivitySession{}, g.fail("update", "session", err)
	}
	return session, nil
}

// DeleteSession removes one of userID's sessions.
func (g *Gateway) DeleteSession(ctx context.Context, userID, id string) error {
	if err := g.store.Delete(ctx, CollectionSessions, userID, id); err != nil {
		return g.fail("delete", "session", err)
	}
	return nil
}

// GetUserStats returns nil when the user has no stats document.
func (g *Gateway) GetUserStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	doc, err := g.store.Get(ctx, CollectionUserStats, userID)
	if err != nil {
		return nil, g.fail("fetch", "user stats", err)
	}
	if doc == nil {
		return nil, nil
	}
	var decoded statsDocument
	if err := json.Unmarshal(doc.Data, &decoded); err != nil {
		return nil, g.fail("fetch", "user stats", err)
	}
	stats := decoded.toDomain()
	return &stats, nil
}

// UpdateUserStats writes the stats document keyed by user id.
func (g *Gateway) UpdateUserStats(ctx context.Context, stats domain.UserStats) error {
	data, err := json.Marshal(toStatsDocument(stats))
	if err != nil {
		return g.fail("update", "user stats", err)
	}
	if err := g.store.Set(ctx, CollectionUserStats, Document{ID: stats.UserID, UserID: stats.UserID, SortAt: g.stamp(), Data: data}); err != nil {
		return g.fail("update", "user stats", err)
	}
	return nil
}

// GetProfile returns nil when no profile exists.
func (g *Gateway) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	doc, err := g.store.Get(ctx, CollectionProfiles, userID)
	if err != nil {
		return nil, g.fail("fetch", "profile", err)
	}
	if doc == nil {
		return nil, nil
	}
	var decoded profileDocument
	if err := json.Unmarshal(doc.Data, &decoded); err != nil {
		return nil, g.fail("fetch", "profile", err)
	}
	profile := decoded.toDomain()
	return &profile, nil
}

// UpdateProfile upserts the profile document keyed by user id.
func (g *Gateway) UpdateProfile(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	now := g.stamp()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	data, err := json.Marshal(toProfileDocument(profile))
	if err != nil {
		return domain.Profile{}, g.fail("update", "profile", err)
	}
	if err := g.store.Set(ctx, CollectionProfiles, Document{ID: profile.UserID, UserID: profile.UserID, SortAt: now, Data: data}); err != nil {
		return domain.Profile{}, g.fail("update", "profile", err)
	}
	return profile, nil
}
