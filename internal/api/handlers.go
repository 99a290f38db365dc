// Package api exposes the sync agent over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"example.com/smartgrip/internal/auth"
	"example.com/smartgrip/internal/domain"
	"example.com/smartgrip/internal/events"
	"example.com/smartgrip/internal/outbox"
	"example.com/smartgrip/internal/remote"
)

// SyncService is the orchestrator surface served over HTTP.
type SyncService interface {
	GetUserActivities(ctx context.Context, userID string, forceRefresh bool) []domain.Activity
	CreateActivity(ctx context.Context, activity domain.Activity) (domain.Activity, error)
	UpdateActivity(ctx context.Context, activity domain.Activity) (domain.Activity, error)
	GetUserSessions(ctx context.Context, userID string, limit int, forceRefresh bool) []domain.ActivitySession
	CreateSession(ctx context.Context, session domain.ActivitySession) (domain.ActivitySession, error)
	UpdateSession(ctx context.Context, session domain.ActivitySession) (domain.ActivitySession, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
	AppendSplits(ctx context.Context, userID, sessionID string, splits ...domain.Split) (domain.ActivitySession, error)
	GetUserStats(ctx context.Context, userID string, forceRefresh bool) domain.UserStats
	GetProfile(ctx context.Context, userID string, forceRefresh bool) *domain.Profile
	UpdateProfile(ctx context.Context, profile domain.Profile) (domain.Profile, error)

	IsOnline() bool
	SetOnlineStatus(ctx context.Context, online bool) error
	PendingActions() []outbox.Action
	ProcessOfflineQueue(ctx context.Context) (events.QueueDrained, error)
	DeadLetters(ctx context.Context) []outbox.DeadLetter
	RetryDeadLetters(ctx context.Context) (outbox.Report, error)
	RequeueDeadLetter(ctx context.Context, id string) error
	Subscribe(h events.Handler) func()
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Handler coordinates HTTP requests with the orchestrator.
type Handler struct {
	service SyncService
	logger  *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(service SyncService, opts ...Option) *Handler {
	h := &Handler{service: service, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)

	r.Route("/v1/users/{uid}", func(r chi.Router) {
		r.Get("/activities", h.listActivities)
		r.Post("/activities", h.createActivity)
		r.Patch("/activities/{id}", h.updateActivity)

		r.Get("/sessions", h.listSessions)
		r.Post("/sessions", h.createSession)
		r.Patch("/sessions/{id}", h.updateSession)
		r.Delete("/sessions/{id}", h.deleteSession)
		r.Post("/sessions/{id}/splits", h.appendSplits)

		r.Get("/stats", h.getStats)
		r.Get("/profile", h.getProfile)
		r.Put("/profile", h.putProfile)

		r.Get("/events", h.streamEvents)
	})

	r.Get("/v1/connectivity", h.getConnectivity)
	r.Put("/v1/connectivity", h.putConnectivity)

	r.Route("/v1/sync", func(r chi.Router) {
		r.Get("/queue", h.listQueue)
		r.Post("/drain", h.drain)
		r.Get("/dead-letters", h.listDeadLetters)
		r.Post("/dead-letters/retry", h.retryDeadLetters)
		r.Post("/dead-letters/{id}/requeue", h.requeueDeadLetter)
	})
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// authorize checks the caller holds scope. Write implies read.
func authorize(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	granted := claims.HasScope(scope) || claims.HasScope(auth.ScopeSyncAdmin)
	if scope == auth.ScopeSyncRead {
		granted = granted || claims.HasScope(auth.ScopeSyncWrite)
	}
	if !granted {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

// authorizeUser additionally checks the caller may act on the {uid} in the path.
func authorizeUser(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	claims, ok := authorize(w, r, scope)
	if !ok {
		return "", false
	}
	userID := chi.URLParam(r, "uid")
	if !claims.CanAccessUser(userID) {
		writeError(w, http.StatusForbidden, "forbidden", "cannot access another user's data")
		return "", false
	}
	return userID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	return true
}

func forceRefresh(r *http.Request) bool {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force_refresh"))
	return force
}

// writeServiceError maps orchestrator and gateway errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var gatewayErr *remote.Error
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, remote.ErrDocumentNotFound), errors.Is(err, outbox.ErrDeadLetterNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &gatewayErr):
		writeError(w, http.StatusBadGateway, "gateway_error", err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
