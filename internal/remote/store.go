// Package remote implements the typed gateway to the backend document database.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Backend collection names.
const (
	CollectionActivities = "activities"
	CollectionSessions   = "sessions"
	CollectionUserStats  = "userStats"
	CollectionProfiles   = "profiles"
)

// ErrDocumentNotFound is returned by Update and Delete for unknown ids and for
// documents owned by another user.
var ErrDocumentNotFound = errors.New("document not found")

// Document is one stored record. CreatedAt is managed by the store.
type Document struct {
	ID        string
	UserID    string
	SortAt    time.Time
	CreatedAt time.Time
	Data      json.RawMessage
}

// DocumentStore is the remote document database.
type DocumentStore interface {
	// Add inserts doc under a store-generated id and returns that id.
	Add(ctx context.Context, collection string, doc Document) (string, error)
	// Set inserts or replaces doc under doc.ID.
	Set(ctx context.Context, collection string, doc Document) error
	// Update replaces an existing document owned by doc.UserID.
	Update(ctx context.Context, collection string, doc Document) error
	// Get returns nil when the document does not exist.
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Delete removes the document id when userID owns it.
	Delete(ctx context.Context, collection, userID, id string) error
	// QueryByUser returns the user's documents newest first. limit <= 0 is unbounded.
	QueryByUser(ctx context.Context, collection, userID string, limit int) ([]Document, error)
}
