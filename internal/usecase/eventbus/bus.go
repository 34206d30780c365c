package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"shellherd/internal/domain"
)

// queueDepth bounds each subscriber's pending deliveries. A subscriber that
// falls this far behind starts losing events rather than stalling publishers.
const queueDepth = 128

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscriber owns one worker goroutine draining its queue, so each
// subscriber sees events in publish order.
type subscriber struct {
	id      uint64
	handler domain.EventHandler
	queue   chan delivery
	done    chan struct{}
	once    sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Bus delivers command lifecycle events to typed and catch-all subscribers.
// Delivery is asynchronous but ordered per subscriber; Publish never blocks.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	byType map[domain.EventType][]*subscriber
	all    []*subscriber

	nextID  atomic.Uint64
	closed  atomic.Bool
	workers sync.WaitGroup
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		byType: make(map[domain.EventType][]*subscriber),
	}
}

// Publish queues event for every subscriber matching its type and every
// catch-all subscriber. A subscriber with a full queue loses the event.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.byType[event.Type])+len(b.all))
	targets = append(targets, b.byType[event.Type]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.queue <- delivery{ctx: ctx, event: event}:
		default:
			b.logger.Warn("eventbus: dropped event for slow subscriber",
				"event", string(event.Type),
				"command_id", event.CommandID,
			)
		}
	}
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function. Subscribing to a closed bus is a no-op.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	if b.closed.Load() {
		return func() {}
	}
	s := b.spawn(handler)

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		s.stop()
		return func() {}
	}
	b.byType[eventType] = append(b.byType[eventType], s)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.byType[eventType] = without(b.byType[eventType], s.id)
		b.mu.Unlock()
		s.stop()
	}
}

// SubscribeAll registers a handler that receives every event and returns its
// unsubscribe function. Subscribing to a closed bus is a no-op.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	if b.closed.Load() {
		return func() {}
	}
	s := b.spawn(handler)

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		s.stop()
		return func() {}
	}
	b.all = append(b.all, s)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.all = without(b.all, s.id)
		b.mu.Unlock()
		s.stop()
	}
}

// spawn creates a subscriber and starts its delivery worker.
func (b *Bus) spawn(handler domain.EventHandler) *subscriber {
	s := &subscriber{
		id:      b.nextID.Add(1),
		handler: handler,
		queue:   make(chan delivery, queueDepth),
		done:    make(chan struct{}),
	}
	b.workers.Add(1)
	go b.drain(s)
	return s
}

// drain delivers queued events one at a time. When the subscriber stops it
// flushes whatever is already queued before exiting.
func (b *Bus) drain(s *subscriber) {
	defer b.workers.Done()
	for {
		select {
		case <-s.done:
			for {
				select {
				case d := <-s.queue:
					b.deliver(s, d)
				default:
					return
				}
			}
		case d := <-s.queue:
			b.deliver(s, d)
		}
	}
}

func (b *Bus) deliver(s *subscriber, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	s.handler(d.ctx, d.event)
}

// without returns subs with the subscriber carrying id removed.
func without(subs []*subscriber, id uint64) []*subscriber {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close stops accepting publishes, then waits for every subscriber to finish
// delivering what was queued before the close. Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	for _, subs := range b.byType {
		for _, s := range subs {
			s.stop()
		}
	}
	for _, s := range b.all {
		s.stop()
	}
	b.byType = make(map[domain.EventType][]*subscriber)
	b.all = nil
	b.mu.Unlock()

	b.workers.Wait()
}
