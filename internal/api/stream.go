package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"example.com/smartgrip/internal/auth"
	"example.com/smartgrip/internal/events"
)

const (
	streamBuffer     = 64
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is gated by the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvents upgrades to a websocket and forwards the user's sync events
// plus global connectivity changes. Events are dropped for slow readers.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(w, r, auth.ScopeSyncRead)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	outgoing := make(chan events.Event, streamBuffer)
	unsubscribe := h.service.Subscribe(func(_ context.Context, e events.Event) {
		if e.UserID != userID && e.UserID != "" {
			return
		}
		select {
		case outgoing <- e:
		default:
			h.logger.Warn("event stream full, dropping event", zap.String("user_id", userID), zap.String("event_type", e.Type))
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case e := <-outgoing:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
