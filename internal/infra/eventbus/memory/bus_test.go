package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
)

func newEvent(seq int64, typ events.EventType) events.Event {
	return events.Event{ID: uuid.New(), Seq: seq, Type: typ, Timestamp: time.Unix(seq, 0)}
}

func receive(t *testing.T, sub events.Subscription) events.Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestBus_DeliversInOrderToMatchingTopics(t *testing.T) {
	t.Parallel()

	bus := NewBus(16, nil)
	ctx := context.Background()

	taskSub, err := bus.Subscribe(ctx, "task.*")
	require.NoError(t, err)
	allSub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, newEvent(1, events.TaskCreated)))
	require.NoError(t, bus.Publish(ctx, newEvent(2, events.DiscoveryIngested)))
	require.NoError(t, bus.Publish(ctx, newEvent(3, events.TaskStateChanged)))

	assert.Equal(t, int64(1), receive(t, taskSub).Seq)
	assert.Equal(t, int64(3), receive(t, taskSub).Seq)

	for _, want := range []int64{1, 2, 3} {
		assert.Equal(t, want, receive(t, allSub).Seq)
	}
}

func TestBus_DropsOldestWhenSubscriberIsSlow(t *testing.T) {
	t.Parallel()

	bus := NewBus(2, nil)
	ctx := context.Background()
	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	for seq := int64(1); seq <= 5; seq++ {
		require.NoError(t, bus.Publish(ctx, newEvent(seq, events.TaskCreated)))
	}

	assert.Equal(t, uint64(3), sub.Dropped())
	assert.Equal(t, int64(4), receive(t, sub).Seq)
	assert.Equal(t, int64(5), receive(t, sub).Seq)
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	bus := NewBus(1, nil)
	ctx := context.Background()
	_, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for seq := int64(1); seq <= 1000; seq++ {
			_ = bus.Publish(ctx, newEvent(seq, events.TaskCreated))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a subscriber that never reads")
	}
}

func TestBus_SubscriptionClosesWithContext(t *testing.T) {
	t.Parallel()

	bus := NewBus(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancellation")
	}

	assert.NoError(t, bus.Publish(context.Background(), newEvent(1, events.TaskCreated)))
}

func TestBus_ConcurrentSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus(64, nil)
	ctx := context.Background()

	const subscribers = 4
	subs := make([]events.Subscription, subscribers)
	for i := range subs {
		var err error
		subs[i], err = bus.Subscribe(ctx, events.TaskStateChanged)
		require.NoError(t, err)
	}

	for seq := int64(1); seq <= 50; seq++ {
		require.NoError(t, bus.Publish(ctx, newEvent(seq, events.TaskStateChanged)))
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub events.Subscription) {
			defer wg.Done()
			for want := int64(1); want <= 50; want++ {
				evt := <-sub.Events()
				assert.Equal(t, want, evt.Seq)
			}
		}(sub)
	}
	wg.Wait()
}

func TestBus_ClosedBusRejectsWork(t *testing.T) {
	t.Parallel()

	bus := NewBus(4, nil)
	sub, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, bus.Publish(context.Background(), newEvent(1, events.TaskCreated)), ErrBusClosed)
	_, err = bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrBusClosed)
}
