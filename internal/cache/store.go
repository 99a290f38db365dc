// Package cache implements the timestamped JSON cache layered over the device key-value store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/smartgrip/internal/kvstore"
	"example.com/smartgrip/internal/observability"
)

// Version is written into every entry.
const Version = "1.0"

// Entry is the stored envelope. Timestamp is Unix milliseconds.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
}

// StoredAt returns the entry's write time.
func (e Entry) StoredAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Item pairs a key with its stored data.
type Item struct {
	Key  string
	Data json.RawMessage
}

// Option configures optional behaviour for the Store.
type Option func(*Store)

// WithLogger overrides the logger used to report storage failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store reads and writes timestamped entries. Reads never fail: storage or decode
// errors are logged and reported as a miss. Writes return their errors.
// Read-modify-write sequences are not locked; the last writer wins.
type Store struct {
	kv     kvstore.Store
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Store over kv.
func New(kv kvstore.Store, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetItem serializes data under key, stamped with the current time.
func (s *Store) SetItem(ctx context.Context, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.put(ctx, key, raw, s.now())
}

// SetItemAt serializes data under key with an explicit timestamp.
func (s *Store) SetItemAt(ctx context.Context, key string, data any, at time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.put(ctx, key, raw, at)
}

func (s *Store) put(ctx context.Context, key string, raw json.RawMessage, at time.Time) error {
	encoded, err := json.Marshal(Entry{Data: raw, Timestamp: at.UnixMilli(), Version: Version})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(encoded)); err != nil {
		s.logger.Error("cache write failed", zap.String("key", key), zap.Error(err))
		observability.RecordCacheWriteError()
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// GetEntry returns the stored envelope regardless of age.
func (s *Store) GetEntry(ctx context.Context, key string) (Entry, bool) {
	value, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		observability.RecordCacheRead(observability.CacheMiss)
		return Entry{}, false
	}
	if !ok {
		observability.RecordCacheRead(observability.CacheMiss)
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		s.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		observability.RecordCacheRead(observability.CacheCorrupt)
		return Entry{}, false
	}
	return entry, true
}

// GetRaw returns the data stored under key. A positive maxAge evicts and misses
// entries older than maxAge; zero disables the age check.
func (s *Store) GetRaw(ctx context.Context, key string, maxAge time.Duration) (json.RawMessage, bool) {
	entry, ok := s.GetEntry(ctx, key)
	if !ok {
		return nil, false
	}
	if maxAge > 0 && s.now().Sub(entry.StoredAt()) > maxAge {
		if err := s.kv.Remove(ctx, key); err != nil {
			s.logger.Warn("cache eviction failed", zap.String("key", key), zap.Error(err))
		}
		observability.RecordCacheRead(observability.CacheExpired)
		return nil, false
	}
	observability.RecordCacheRead(observability.CacheHit)
	return entry.Data, true
}

// GetItem decodes the data stored under key into dst. See GetRaw for maxAge.
func (s *Store) GetItem(ctx context.Context, key string, maxAge time.Duration, dst any) bool {
	raw, ok := s.GetRaw(ctx, key, maxAge)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("cache data undecodable", zap.String("key", key), zap.Error(err))
		observability.RecordCacheRead(observability.CacheCorrupt)
		return false
	}
	return true
}

// Lookup decodes the data under key into dst regardless of age. Unlike the
// other reads it reports storage and decode failures instead of a miss, so
// callers that rewrite the value can tell "absent" from "unreadable".
func (s *Store) Lookup(ctx context.Context, key string, dst any) (bool, error) {
	value, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	var entry Entry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	if err := json.Unmarshal(entry.Data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Get is the typed form of GetItem.
func Get[T any](ctx context.Context, s *Store, key string, maxAge time.Duration) (T, bool) {
	var out T
	if !s.GetItem(ctx, key, maxAge, &out) {
		var zero T
		return zero, false
	}
	return out, true
}

// Peek decodes the value under key without evicting it. fresh reports whether
// the entry is within maxAge (always true when maxAge is zero).
func Peek[T any](ctx context.Context, s *Store, key string, maxAge time.Duration) (value T, fresh bool, ok bool) {
	entry, found := s.GetEntry(ctx, key)
	if !found {
		return value, false, false
	}
	if err := json.Unmarshal(entry.Data, &value); err != nil {
		s.logger.Warn("cache data undecodable", zap.String("key", key), zap.Error(err))
		observability.RecordCacheRead(observability.CacheCorrupt)
		var zero T
		return zero, false, false
	}
	fresh = maxAge <= 0 || s.now().Sub(entry.StoredAt()) <= maxAge
	if fresh {
		observability.RecordCacheRead(observability.CacheHit)
	} else {
		observability.RecordCacheRead(observability.CacheExpired)
	}
	return value, fresh, true
}

// Patch applies fn to the value under key and writes it back with the entry's
// original timestamp. It reports false when nothing usable is stored.
func Patch[T any](ctx context.Context, s *Store, key string, fn func(*T)) (bool, error) {
	entry, ok := s.GetEntry(ctx, key)
	if !ok {
		return false, nil
	}
	var value T
	if err := json.Unmarshal(entry.Data, &value); err != nil {
		s.logger.Warn("cache data undecodable", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	fn(&value)
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.put(ctx, key, raw, entry.StoredAt()); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveItem deletes key.
func (s *Store) RemoveItem(ctx context.Context, key string) error {
	if err := s.kv.Remove(ctx, key); err != nil {
		s.logger.Error("cache remove failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache remove %s: %w", key, err)
	}
	return nil
}

// ClearAll deletes every key.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.kv.Clear(ctx); err != nil {
		s.logger.Error("cache clear failed", zap.Error(err))
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// GetAllKeys lists stored keys, or nothing when storage fails.
func (s *Store) GetAllKeys(ctx context.Context) []string {
	keys, err := s.kv.AllKeys(ctx)
	if err != nil {
		s.logger.Warn("cache key listing failed", zap.Error(err))
		return []string{}
	}
	return keys
}

// MultiSet writes several entries sharing one timestamp.
func (s *Store) MultiSet(ctx context.Context, items map[string]any) error {
	at := s.now().UnixMilli()
	pairs := make(map[string]string, len(items))
	for key, data := range items {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		encoded, err := json.Marshal(Entry{Data: raw, Timestamp: at, Version: Version})
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		pairs[key] = string(encoded)
	}
	if err := s.kv.MultiSet(ctx, pairs); err != nil {
		s.logger.Error("cache multi write failed", zap.Int("keys", len(pairs)), zap.Error(err))
		observability.RecordCacheWriteError()
		return fmt.Errorf("cache multi set: %w", err)
	}
	return nil
}

// MultiGet returns the data for the keys present, in request order. Expiry is not applied.
func (s *Store) MultiGet(ctx context.Context, keys []string) []Item {
	values, err := s.kv.MultiGet(ctx, keys)
	if err != nil {
		s.logger.Warn("cache multi read failed", zap.Error(err))
		return []Item{}
	}
	out := make([]Item, 0, len(values))
	for _, key := range keys {
		value, ok := values[key]
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			s.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, Item{Key: key, Data: entry.Data})
	}
	return out
}
