package transport

import (
	"context"
	"sync"

	"sagaflow/internal/contracts"
)

// MemoryBus is an in-process transport for tests and the demo binary. Publish
// routes the envelope by topic and invokes subscribers synchronously in the
// calling goroutine, so a chain of publish/handle hops runs to completion
// before Publish returns.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[string][]Handler
	history []contracts.Envelope
}

// NewMemoryBus constructs an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a topic.
func (b *MemoryBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], handler)
	b.mu.Unlock()
}

// Publish delivers the envelope to every subscriber of its topic. The first
// handler error aborts delivery and is returned to the caller.
func (b *MemoryBus) Publish(ctx context.Context, env contracts.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	topic := contracts.TopicFor(env.Kind)

	b.mu.Lock()
	b.history = append(b.history, env)
	handlers := append([]Handler(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// History returns every envelope published so far, in order.
func (b *MemoryBus) History() []contracts.Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]contracts.Envelope(nil), b.history...)
}

var _ Publisher = (*MemoryBus)(nil)
