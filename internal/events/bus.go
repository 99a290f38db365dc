package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler receives published events. Handlers run synchronously on the publisher's goroutine.
type Handler func(context.Context, Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus fans events out to subscribers in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *zap.Logger
}

// NewBus constructs a Bus. A nil logger discards handler panics silently.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sub := range b.subs {
				if sub.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers e to every subscriber. A panicking handler does not stop delivery.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatch(ctx, sub.handler, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.String("event_type", e.Type), zap.Any("panic", r))
		}
	}()
	h(ctx, e)
}
