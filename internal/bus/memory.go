package bus

import (
	"context"
	"errors"
	"sync"
)

const memoryBufferSize = 256

// MemoryBus is the in-process Bus used by default and in tests. Events are
// delivered in publish order by one dispatch goroutine.
type MemoryBus struct {
	mu       sync.Mutex
	events   chan Event
	closed   bool
	started  bool
	done     chan struct{}
	handlers []func(Event)
}

// NewMemory returns an unstarted in-process bus.
func NewMemory() *MemoryBus {
	return &MemoryBus{
		events: make(chan Event, memoryBufferSize),
		done:   make(chan struct{}),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("bus is closed")
	}
	b.mu.Unlock()

	select {
	case b.events <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return errors.New("bus is closed")
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, fn func(Event)) error {
	if fn == nil {
		return errors.New("handler is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("bus is closed")
	}
	b.handlers = append(b.handlers, fn)
	if b.started {
		return nil
	}
	b.started = true

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case evt := <-b.events:
				b.mu.Lock()
				handlers := make([]func(Event), len(b.handlers))
				copy(handlers, b.handlers)
				b.mu.Unlock()
				for _, h := range handlers {
					h(evt)
				}
			}
		}
	}()
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}
