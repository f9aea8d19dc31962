// Package bus implements the per-session and per-user event fan-out used by
// Session.events and MediaIngestor.notifiers: many subscribers, each
// receiving every message published after it subscribed; a publish with no
// subscribers is silently dropped.
package bus

import (
	"context"
	"sync"
)

// Bus is a single fan-out channel of opaque string events.
type Bus interface {
	// Publish sends msg to every current subscriber. Non-blocking: a
	// subscriber that isn't keeping up misses messages rather than stalling
	// the publisher.
	Publish(ctx context.Context, msg string)
	// Subscribe registers a new receiver and returns a channel of events
	// plus an unsubscribe function. The channel is closed after unsubscribe.
	Subscribe(ctx context.Context) (<-chan string, func())
}

// subscriberQueueDepth bounds how far behind a slow subscriber can fall
// before new events published to it are dropped.
const subscriberQueueDepth = 32

// Local is an in-process Bus backed by Go channels. Used directly when no
// Redis is configured, and as the concrete subscriber fan-out underneath the
// Redis-backed Bus (see redis.go).
type Local struct {
	mu     sync.Mutex
	subs   map[int]chan string
	nextID int
	closed bool
}

func NewLocal() *Local {
	return &Local{subs: make(map[int]chan string)}
}

func (l *Local) Publish(_ context.Context, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	for _, ch := range l.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
}

func (l *Local) Subscribe(_ context.Context) (<-chan string, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan string, subscriberQueueDepth)
	id := l.nextID
	l.nextID++
	if l.closed {
		close(ch)
		return ch, func() {}
	}
	l.subs[id] = ch

	unsub := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}
	return ch, unsub
}

// Close closes every outstanding subscriber channel. Publish becomes a no-op
// afterward.
func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}

// Registry hands out a Bus per key (session ID or user ID), creating one on
// first use via factory. factory receives the key so a Redis-backed factory
// can derive a channel name from it.
type Registry struct {
	mu      sync.Mutex
	buses   map[string]Bus
	factory func(key string) Bus
}

func NewRegistry(factory func(key string) Bus) *Registry {
	return &Registry{buses: make(map[string]Bus), factory: factory}
}

func (r *Registry) Get(key string) Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buses[key]; ok {
		return b
	}
	b := r.factory(key)
	r.buses[key] = b
	return b
}

// Delete removes and, if the Bus supports it, closes the bus for key.
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	b, ok := r.buses[key]
	if ok {
		delete(r.buses, key)
	}
	r.mu.Unlock()

	if closer, ok := b.(interface{ Close() }); ok {
		closer.Close()
	}
}
