package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

type countingMetrics struct {
	mu        sync.Mutex
	published int
	errors    int
}

func (m *countingMetrics) IncMessagePublished(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published++
}

func (m *countingMetrics) IncPublishError(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

type chanSubscription struct {
	ch      chan events.Event
	dropped uint64
}

func (s *chanSubscription) Events() <-chan events.Event { return s.ch }
func (s *chanSubscription) Dropped() uint64             { return s.dropped }
func (s *chanSubscription) Close()                      {}

func testEvent(seq int64) events.Event {
	return events.Event{
		ID:        uuid.New(),
		Seq:       seq,
		SessionID: uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2"),
		Type:      events.TaskStateChanged,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload:   map[string]any{"tool": "httpx"},
	}
}

func newTestForwarder(t *testing.T) (*Forwarder, *mocks.SyncProducer, *countingMetrics) {
	t.Helper()
	producer := mocks.NewSyncProducer(t, nil)
	metrics := new(countingMetrics)
	f := NewForwarder(producer, "reconpilot.events", logger.Noop(), noop.NewTracerProvider().Tracer("test"), metrics)
	return f, producer, metrics
}

func TestForwarder_Forward(t *testing.T) {
	t.Parallel()

	f, producer, metrics := newTestForwarder(t)
	defer func() { require.NoError(t, f.Close()) }()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got events.Event
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Seq != 7 || got.Type != events.TaskStateChanged {
			return errors.New("unexpected event")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)

	require.NoError(t, f.Forward(context.Background(), testEvent(7)))
	err := f.Forward(context.Background(), testEvent(8))
	require.ErrorIs(t, err, sarama.ErrLeaderNotAvailable)

	assert.Equal(t, 1, metrics.published)
	assert.Equal(t, 1, metrics.errors)
}

func TestForwarder_RunStopsWhenSubscriptionCloses(t *testing.T) {
	t.Parallel()

	f, producer, metrics := newTestForwarder(t)
	defer func() { require.NoError(t, f.Close()) }()

	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndSucceed()

	sub := &chanSubscription{ch: make(chan events.Event, 3)}
	for seq := int64(1); seq <= 3; seq++ {
		sub.ch <- testEvent(seq)
	}
	close(sub.ch)

	require.NoError(t, f.Run(context.Background(), sub), "send failures do not stop forwarding")
	assert.Equal(t, 2, metrics.published)
	assert.Equal(t, 1, metrics.errors)
}

func TestForwarder_RunHonorsContext(t *testing.T) {
	t.Parallel()

	f, _, _ := newTestForwarder(t)
	defer func() { require.NoError(t, f.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.Run(ctx, &chanSubscription{ch: make(chan events.Event)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnectWithRetry(t *testing.T) {
	t.Parallel()

	t.Run("retries until the producer is ready", func(t *testing.T) {
		t.Parallel()

		calls := 0
		factory := func(*Config) (sarama.SyncProducer, error) {
			calls++
			if calls < 2 {
				return nil, sarama.ErrOutOfBrokers
			}
			return mocks.NewSyncProducer(t, nil), nil
		}

		cfg := &Config{Brokers: []string{"localhost:9092"}, Topic: "events", ConnectTimeout: 10 * time.Second}
		p, err := ConnectWithRetry(context.Background(), cfg, factory, logger.Noop())
		require.NoError(t, err)
		require.NoError(t, p.Close())
		assert.Equal(t, 2, calls)
	})

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()
		_, err := ConnectWithRetry(context.Background(), &Config{Topic: "events"}, nil, logger.Noop())
		assert.Error(t, err)
	})

	t.Run("gives up when the context ends", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		factory := func(*Config) (sarama.SyncProducer, error) { return nil, sarama.ErrOutOfBrokers }
		_, err := ConnectWithRetry(ctx, &Config{Brokers: []string{"b:9092"}, Topic: "events"}, factory, logger.Noop())
		assert.Error(t, err)
	})
}
