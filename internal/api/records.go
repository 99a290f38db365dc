package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"example.com/smartgrip/internal/auth"
	"example.com/smartgrip/internal/domain"
	"example.com/smartgrip/internal/orchestrator"
)

// writeStored responds 202 when the record was queued offline, 201/200 otherwise.
func writeStored(w http.ResponseWriter, id string, created bool, payload any) {
	switch {
	case orchestrator.IsOfflineID(id):
		writeJSON(w, http.StatusAccepted, payload)
	case created:
		writeJSON(w, http.StatusCreated, payload)
	default:
		writeJSON(w, http.StatusOK, payload)
	}
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetUserActivities(r.Context(), userID, forceRefresh(r)))
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncWrite)
	if !ok {
		return
	}
	var activity domain.Activity
	if !decodeBody(w, r, &activity) {
		return
	}
	activity.UserID = userID

	created, err := h.service.CreateActivity(r.Context(), activity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeStored(w, created.ID, true, created)
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncWrite)
	if !ok {
		return
	}
	var activity domain.Activity
	if !decodeBody(w, r, &activity) {
		return
	}
	activity.UserID = userID
	activity.ID = chi.URLParam(r, "id")

	updated, err := h.service.UpdateActivity(r.Context(), activity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeStored(w, updated.ID, false, updated)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncRead)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.service.GetUserSessions(r.Context(), userID, limit, forceRefresh(r)))
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncWrite)
	if !ok {
		return
	}
	var session domain.ActivitySession
	if !decodeBody(w, r, &session) {
		return
	}
	session.UserID = userID

	created, err := h.service.CreateSession(r.Context(), session)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeStored(w, created.ID, true, created)
}

func (h *Handler) updateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncWrite)
	if !ok {
		return
	}
	var session domain.ActivitySession
	if !decodeBody(w, r, &session) {
		return
	}
	session.UserID = userID
	session.ID = chi.URLParam(r, "id")

	updated, err := h.service.UpdateSession(r.Context(), session)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeStored(w, updated.ID, false, updated)
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncWrite)
	if !ok {
		return
	}
	if err := h.service.DeleteSession(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AppendSplitsRequest is the body of POST .../sessions/{id}/splits.
type AppendSplitsRequest struct {
	Splits []domain.Split `json:"splits" validate:"required,min=1"`
}

func (h *Handler) appendSplits(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncWrite)
	if !ok {
		return
	}
	var req AppendSplitsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !validateBody(w, &req) {
		return
	}

	updated, err := h.service.AppendSplits(r.Context(), userID, chi.URLParam(r, "id"), req.Splits...)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeStored(w, updated.ID, false, updated)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetUserStats(r.Context(), userID, forceRefresh(r)))
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncRead)
	if !ok {
		return
	}
	profile := h.service.GetProfile(r.Context(), userID, forceRefresh(r))
	if profile == nil {
		writeError(w, http.StatusNotFound, "not_found", "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) putProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncWrite)
	if !ok {
		return
	}
	var profile domain.Profile
	if !decodeBody(w, r, &profile) {
		return
	}
	profile.UserID = userID

	updated, err := h.service.UpdateProfile(r.Context(), profile)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
