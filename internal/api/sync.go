package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"example.com/smartgrip/internal/auth"
	"example.com/smartgrip/internal/outbox"
)

// ConnectivityView is the body of GET/PUT /v1/connectivity.
type ConnectivityView struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
}

// DeadLetterReport summarises one retry run.
type DeadLetterReport struct {
	Replayed    int `json:"replayed"`
	Rescheduled int `json:"rescheduled"`
	Quarantined int `json:"quarantined"`
}

func (h *Handler) getConnectivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeSyncRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, ConnectivityView{Online: h.service.IsOnline(), Pending: len(h.service.PendingActions())})
}

// putConnectivity overrides the probed status; going online drains the queue.
func (h *Handler) putConnectivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeSyncAdmin); !ok {
		return
	}
	var req struct {
		Online *bool `json:"online" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !validateBody(w, &req) {
		return
	}
	if err := h.service.SetOnlineStatus(r.Context(), *req.Online); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectivityView{Online: h.service.IsOnline(), Pending: len(h.service.PendingActions())})
}

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSyncRead)
	if !ok {
		return
	}
	visible := make([]outbox.Action, 0)
	for _, action := range h.service.PendingActions() {
		if claims.CanAccessUser(action.UserID) {
			visible = append(visible, action)
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

func (h *Handler) drain(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeSyncWrite); !ok {
		return
	}
	if !h.service.IsOnline() {
		writeError(w, http.StatusConflict, "offline", "cannot drain while offline")
		return
	}
	summary, err := h.service.ProcessOfflineQueue(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSyncRead)
	if !ok {
		return
	}
	visible := make([]outbox.DeadLetter, 0)
	for _, entry := range h.service.DeadLetters(r.Context()) {
		if claims.CanAccessUser(entry.Action.UserID) {
			visible = append(visible, entry)
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

func (h *Handler) retryDeadLetters(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeSyncAdmin); !ok {
		return
	}
	report, err := h.service.RetryDeadLetters(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeadLetterReport{
		Replayed:    len(report.Replayed),
		Rescheduled: len(report.Rescheduled),
		Quarantined: len(report.Quarantined),
	})
}

func (h *Handler) requeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeSyncAdmin); !ok {
		return
	}
	if err := h.service.RequeueDeadLetter(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
