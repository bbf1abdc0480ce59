// Package memory provides an in-process implementation of events.EventBus.
// Each subscriber owns a bounded queue; when the queue is full the oldest
// event is discarded so publishers never block.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

// DefaultBufferSize is used when NewBus is given a non-positive size.
const DefaultBufferSize = 1024

// ErrBusClosed is returned when publishing or subscribing after Close.
var ErrBusClosed = errors.New("event bus closed")

var _ events.EventBus = (*Bus)(nil)

// Bus fans events out to subscriptions whose topic patterns match.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
	size   int

	logger *logger.Logger
}

// NewBus creates a bus whose subscribers each buffer up to size events.
func NewBus(size int, log *logger.Logger) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Bus{size: size, logger: log.With("component", "event_bus")}
}

// Subscribe registers a subscription for the given topic patterns. No topics
// means every event. The subscription is closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, topics ...events.EventType) (events.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		topics = []events.EventType{events.AllTopics}
	}

	sub := &subscription{
		bus:    b,
		topics: topics,
		ch:     make(chan events.Event, b.size),
		doneCh: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.doneCh:
		}
	}()

	return sub, nil
}

// Publish delivers evt to every matching subscription without blocking.
func (b *Bus) Publish(ctx context.Context, evt events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for _, sub := range b.subs {
		if sub.wants(evt.Type) && sub.deliver(evt) {
			b.logger.Debug(ctx, "subscriber queue full, dropped oldest event",
				"event_type", evt.Type, "dropped_total", sub.Dropped())
		}
	}
	return nil
}

// Close detaches and closes every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	return nil
}

func (b *Bus) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

type subscription struct {
	bus    *Bus
	topics []events.EventType
	ch     chan events.Event

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	doneCh    chan struct{}

	dropped atomic.Uint64
}

var _ events.Subscription = (*subscription)(nil)

func (s *subscription) Events() <-chan events.Event { return s.ch }

func (s *subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *subscription) Close() {
	s.bus.remove(s)
	s.shutdown()
}

func (s *subscription) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		close(s.doneCh)
	})
}

func (s *subscription) wants(t events.EventType) bool {
	for _, topic := range s.topics {
		if topic.Matches(t) {
			return true
		}
	}
	return false
}

// deliver enqueues evt, evicting the oldest queued event when the queue is
// full. It reports whether an event was dropped.
func (s *subscription) deliver(evt events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	dropped := false
	for {
		select {
		case s.ch <- evt:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			dropped = true
		default:
		}
	}
}
