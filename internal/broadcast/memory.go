package broadcast

import (
	"context"
	"errors"
	"sync"
)

var ErrTransportClosed = errors.New("broadcast transport closed")

// MemoryBus connects in-process endpoints, one per tab.
type MemoryBus struct {
	mu        sync.RWMutex
	endpoints map[*MemoryEndpoint]struct{}
}

// NewMemoryBus creates an empty bus; each tab calls Join.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{endpoints: make(map[*MemoryEndpoint]struct{})}
}

// Join attaches a new endpoint to the bus.
func (b *MemoryBus) Join() *MemoryEndpoint {
	e := &MemoryEndpoint{bus: b, handlers: make(map[int]func([]byte))}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	b.mu.Unlock()
	return e
}

func (b *MemoryBus) peers(except *MemoryEndpoint) []*MemoryEndpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*MemoryEndpoint, 0, len(b.endpoints))
	for e := range b.endpoints {
		if e != except {
			out = append(out, e)
		}
	}
	return out
}

// MemoryEndpoint is one tab's view of a MemoryBus. Delivery is synchronous.
type MemoryEndpoint struct {
	bus *MemoryBus

	mu       sync.Mutex
	nextID   int
	handlers map[int]func([]byte)
	closed   bool
}

// Publish delivers payload to every other endpoint on the bus.
func (e *MemoryEndpoint) Publish(_ context.Context, payload []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	for _, peer := range e.bus.peers(e) {
		peer.deliver(payload)
	}
	return nil
}

// Subscribe registers handler until ctx ends or the endpoint is closed.
func (e *MemoryEndpoint) Subscribe(ctx context.Context, handler func([]byte)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrTransportClosed
	}
	id := e.nextID
	e.nextID++
	e.handlers[id] = handler
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}()
	return nil
}

// Close leaves the bus.
func (e *MemoryEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.handlers = make(map[int]func([]byte))
	e.mu.Unlock()

	e.bus.mu.Lock()
	delete(e.bus.endpoints, e)
	e.bus.mu.Unlock()
	return nil
}

func (e *MemoryEndpoint) deliver(payload []byte) {
	e.mu.Lock()
	handlers := make([]func([]byte), 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		h(append([]byte(nil), payload...))
	}
}
