package node

import (
	"context"
	"errors"
	"sync"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

// Transport is the broadcast medium a node sends to and receives from.
// Every vector broadcast reaches every other attached endpoint; delivery is
// decided by resonance at the receiver, never by the medium.
type Transport interface {
	Broadcast(ctx context.Context, v core.Vector) error
	ReceiveNext(ctx context.Context) (core.Vector, error)
}

// ErrEndpointClosed is returned by a closed MemoryEndpoint.
var ErrEndpointClosed = errors.New("endpoint closed")

// MemoryBus is an in-process broadcast medium.
type MemoryBus struct {
	mu        sync.RWMutex
	endpoints map[*MemoryEndpoint]struct{}
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{endpoints: make(map[*MemoryEndpoint]struct{})}
}

// Attach adds an endpoint with an inbound buffer of the given size. A full
// buffer drops new vectors for that endpoint only.
func (b *MemoryBus) Attach(buffer int) *MemoryEndpoint {
	if buffer <= 0 {
		buffer = 64
	}
	e := &MemoryEndpoint{
		bus:    b,
		inbox:  make(chan core.Vector, buffer),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	b.mu.Unlock()
	return e
}

// Len is the number of attached endpoints.
func (b *MemoryBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.endpoints)
}

func (b *MemoryBus) publish(from *MemoryEndpoint, v core.Vector) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for e := range b.endpoints {
		if e == from {
			continue
		}
		e.offer(v)
	}
}

func (b *MemoryBus) detach(e *MemoryEndpoint) {
	b.mu.Lock()
	delete(b.endpoints, e)
	b.mu.Unlock()
}

// MemoryEndpoint is one node's attachment to a MemoryBus.
type MemoryEndpoint struct {
	bus       *MemoryBus
	inbox     chan core.Vector
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	dropped uint64
}

// Broadcast hands v to every other endpoint on the bus.
func (e *MemoryEndpoint) Broadcast(ctx context.Context, v core.Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-e.closed:
		return ErrEndpointClosed
	default:
	}
	e.bus.publish(e, v)
	return nil
}

// ReceiveNext blocks until a vector arrives, ctx is done or the endpoint
// is closed.
func (e *MemoryEndpoint) ReceiveNext(ctx context.Context) (core.Vector, error) {
	select {
	case v := <-e.inbox:
		return v, nil
	case <-ctx.Done():
		return core.Vector{}, ctx.Err()
	case <-e.closed:
		return core.Vector{}, ErrEndpointClosed
	}
}

// Dropped counts vectors lost to a full inbox.
func (e *MemoryEndpoint) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close detaches the endpoint from the bus.
func (e *MemoryEndpoint) Close() error {
	e.closeOnce.Do(func() {
		e.bus.detach(e)
		close(e.closed)
	})
	return nil
}

func (e *MemoryEndpoint) offer(v core.Vector) {
	select {
	case e.inbox <- v:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
}
