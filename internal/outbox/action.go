// Package outbox queues writes made while offline and replays them once connectivity returns.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType is the kind of mutation recorded while offline.
type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionUpdate ActionType = "UPDATE"
	ActionDelete ActionType = "DELETE"
)

// Action is one pending mutation. Data holds the JSON encoding of the entity.
type Action struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Collection string          `json:"collection"`
	DocumentID string          `json:"documentId,omitempty"`
	UserID     string          `json:"userId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewAction builds an Action with a fresh id, encoding data when it is non-nil.
func NewAction(actionType ActionType, collection, documentID, userID string, data any, at time.Time) (Action, error) {
	action := Action{
		ID:         uuid.NewString(),
		Type:       actionType,
		Collection: collection,
		DocumentID: documentID,
		UserID:     userID,
		Timestamp:  at.UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Action{}, fmt.Errorf("encode %s %s action: %w", actionType, collection, err)
		}
		action.Data = raw
	}
	return action, nil
}

// Decode unmarshals the action payload into dst.
func (a Action) Decode(dst any) error {
	if len(a.Data) == 0 {
		return fmt.Errorf("action %s has no payload", a.ID)
	}
	return json.Unmarshal(a.Data, dst)
}
