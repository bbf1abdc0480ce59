package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	"github.com/gh0stshe11/reconpilot/internal/infra/eventbus/kafka/tracing"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

// ForwarderMetrics defines metrics operations needed to monitor event export.
type ForwarderMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// Forwarder republishes bus events to a Kafka topic. A failed send is logged
// and counted; it never stalls the scan.
type Forwarder struct {
	producer sarama.SyncProducer
	topic    string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics ForwarderMetrics
}

// NewForwarder creates a forwarder that owns producer.
func NewForwarder(producer sarama.SyncProducer, topic string, log *logger.Logger, tracer trace.Tracer, metrics ForwarderMetrics) *Forwarder {
	return &Forwarder{
		producer: producer,
		topic:    topic,
		logger:   log.With("component", "kafka_forwarder", "topic", topic),
		tracer:   tracer,
		metrics:  metrics,
	}
}

// Run forwards events from sub until the subscription closes or ctx is done.
func (f *Forwarder) Run(ctx context.Context, sub events.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.Events():
			if !ok {
				if n := sub.Dropped(); n > 0 {
					f.logger.Warn(ctx, "forwarder fell behind the bus", "dropped_events", n)
				}
				return nil
			}
			if err := f.Forward(ctx, evt); err != nil {
				f.logger.Error(ctx, "failed to forward event",
					"event_type", evt.Type,
					"seq", evt.Seq,
					"error", err,
				)
			}
		}
	}
}

// Forward publishes a single event, keyed by its session id.
func (f *Forwarder) Forward(ctx context.Context, evt events.Event) error {
	ctx, span := tracing.StartProducerSpan(ctx, f.topic, f.tracer)
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", string(evt.Type)),
		attribute.Int64("event.seq", evt.Seq),
		attribute.String("session_id", evt.SessionID.String()),
	)

	value, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode event")
		f.metrics.IncPublishError(ctx, f.topic)
		return fmt.Errorf("failed to encode event %s: %w", evt.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: f.topic,
		Key:   sarama.StringEncoder(evt.SessionID.String()),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(evt.Type)},
		},
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := f.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		f.metrics.IncPublishError(ctx, f.topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", f.topic, err)
	}
	f.metrics.IncMessagePublished(ctx, f.topic)

	f.logger.Debug(ctx, "Published event to Kafka",
		"event_type", evt.Type,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close releases the producer.
func (f *Forwarder) Close() error { return f.producer.Close() }

type forwarderMetrics struct {
	published metric.Int64Counter
	errors    metric.Int64Counter
}

// NewForwarderMetrics creates forwarder counters on the given meter provider.
func NewForwarderMetrics(mp metric.MeterProvider) (ForwarderMetrics, error) {
	meter := mp.Meter("reconpilot_kafka", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(forwarderMetrics)
	var err error
	if m.published, err = meter.Int64Counter(
		"kafka_messages_published_total",
		metric.WithDescription("Total number of events published to Kafka"),
	); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter(
		"kafka_publish_errors_total",
		metric.WithDescription("Total number of events that could not be published"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *forwarderMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *forwarderMetrics) IncPublishError(ctx context.Context, topic string) {
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
