// Package kvstore provides the durable string key-value storage that backs the local cache.
package kvstore

import "context"

// Store is an asynchronous string key-value API. Implementations must be safe for
// concurrent use. MultiSet offers no atomicity guarantee to callers.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	MultiGet(ctx context.Context, keys []string) (map[string]string, error)
	MultiSet(ctx context.Context, pairs map[string]string) error
	AllKeys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}
