package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDocumentStore is an in-process DocumentStore. Payloads are copied on
// every write and read so callers never share buffers with the store.
type MemoryDocumentStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	now         func() time.Time
}

// NewMemoryDocumentStore constructs an empty store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		collections: make(map[string]map[string]Document),
		now:         time.Now,
	}
}

func (m *MemoryDocumentStore) Add(ctx context.Context, collection string, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !json.Valid(doc.Data) {
		return "", fmt.Errorf("invalid document payload")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc.ID = uuid.NewString()
	doc.CreatedAt = m.now().UTC()
	if doc.SortAt.IsZero() {
		doc.SortAt = doc.CreatedAt
	}
	m.put(collection, doc)
	return doc.ID, nil
}

func (m *MemoryDocumentStore) Set(ctx context.Context, collection string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(doc.Data) {
		return fmt.Errorf("invalid document payload")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.collections[collection][doc.ID]; ok {
		doc.CreatedAt = existing.CreatedAt
	} else {
		doc.CreatedAt = m.now().UTC()
	}
	m.put(collection, doc)
	return nil
}

func (m *MemoryDocumentStore) Update(ctx context.Context, collection string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(doc.Data) {
		return fmt.Errorf("invalid document payload")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.collections[collection][doc.ID]
	if !ok || existing.UserID != doc.UserID {
		return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, collection, doc.ID)
	}
	doc.CreatedAt = existing.CreatedAt
	if doc.SortAt.IsZero() {
		doc.SortAt = existing.SortAt
	}
	m.put(collection, doc)
	return nil
}

func (m *MemoryDocumentStore) put(collection string, doc Document) {
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]Document)
		m.collections[collection] = docs
	}
	doc.Data = append(json.RawMessage(nil), doc.Data...)
	docs[doc.ID] = doc
}

func (m *MemoryDocumentStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, nil
	}
	doc.Data = append(json.RawMessage(nil), doc.Data...)
	return &doc, nil
}

func (m *MemoryDocumentStore) Delete(ctx context.Context, collection, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.collections[collection][id]; !ok || existing.UserID != userID {
		return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, collection, id)
	}
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryDocumentStore) QueryByUser(ctx context.Context, collection, userID string, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Document, 0)
	for _, doc := range m.collections[collection] {
		if doc.UserID != userID {
			continue
		}
		doc.Data = append(json.RawMessage(nil), doc.Data...)
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortAt.Equal(out[j].SortAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SortAt.After(out[j].SortAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
