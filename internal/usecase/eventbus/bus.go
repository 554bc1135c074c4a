// Package eventbus is the in-process publish/subscribe bus for host events.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"agenthost/internal/domain"
)

const defaultBuffer = 256

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription delivers to one handler from its own goroutine, so each
// subscriber sees events in publish order.
type subscription struct {
	id      uint64
	all     bool
	typ     domain.EventType
	handler domain.EventHandler
	ch      chan delivery
}

// Option customizes a Bus.
type Option func(*Bus)

// WithBuffer sets how many undelivered events each subscriber may queue
// before further events to it are dropped.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// Bus is an in-process, goroutine-safe event bus. Publish never blocks: a
// subscriber that falls behind loses events rather than stalling the run.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscription
	nextID  atomic.Uint64
	dropped atomic.Uint64
	buffer  int
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  bool
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{buffer: defaultBuffer, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish queues event for every matching subscriber.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.all && sub.typ != event.Type {
			continue
		}
		select {
		case sub.ch <- delivery{ctx: ctx, event: event}:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber is behind",
				"event", string(event.Type),
				"subscription", sub.id,
			)
		}
	}
}

// Dropped returns how many deliveries were discarded because a subscriber's
// queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(&subscription{typ: eventType, handler: handler})
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(&subscription{all: true, handler: handler})
}

func (b *Bus) add(sub *subscription) func() {
	sub.id = b.nextID.Add(1)
	sub.ch = make(chan delivery, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.drain(sub)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

func (b *Bus) drain(sub *subscription) {
	defer b.wg.Done()
	for d := range sub.ch {
		b.deliver(sub, d)
	}
}

func (b *Bus) deliver(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Close prevents new publishes and waits for queued events to be handled.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
}
