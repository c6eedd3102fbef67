package broadcast

import (
	"context"
	"sync"
)

// MemoryBus is an in-process bus for tests and single-process deployments.
// Delivery is synchronous and FIFO per publisher.
type MemoryBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
	closed   bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string]map[int]Handler)}
}

func (b *MemoryBus) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	subs := make([]Handler, 0, len(b.handlers[msg.Type]))
	for _, h := range b.handlers[msg.Type] {
		subs = append(subs, h)
	}
	b.mu.RUnlock()

	for _, h := range subs {
		h(msg)
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[topic][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string]map[int]Handler)
	b.closed = true
	return nil
}
