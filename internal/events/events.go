// Package events carries sync notifications to in-process subscribers and to Kafka.
package events

import "time"

// Event types.
const (
	TypeIDRemapped          = "sync.id_remapped"
	TypeActionDeadLettered  = "sync.action_dead_lettered"
	TypeActionQuarantined   = "sync.action_quarantined"
	TypeQueueDrained        = "sync.queue_drained"
	TypeConnectivityChanged = "sync.connectivity_changed"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// IDRemapped reports that an offline id was replaced by the server id.
type IDRemapped struct {
	Collection string `json:"collection"`
	LocalID    string `json:"local_id"`
	ServerID   string `json:"server_id"`
}

// ActionFailed reports a replay failure that moved an action to dead letters.
type ActionFailed struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
	RetryCount int    `json:"retry_count"`
}

// QueueDrained summarises one drain of the offline queue.
type QueueDrained struct {
	Replayed     int `json:"replayed"`
	DeadLettered int `json:"dead_lettered"`
}

// ConnectivityChanged reports an online/offline transition.
type ConnectivityChanged struct {
	Online bool `json:"online"`
}
