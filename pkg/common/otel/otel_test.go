package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestGetTraceID(t *testing.T) {
	t.Parallel()

	assert.Empty(t, GetTraceID(context.Background()))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}

func TestNewResource(t *testing.T) {
	t.Parallel()

	res := NewResource("reconpilot", map[string]string{"host.name": "box"})
	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "reconpilot", attrs["service.name"])
	assert.Equal(t, "box", attrs["host.name"])
}

func TestNoopProviders(t *testing.T) {
	t.Parallel()

	p := NoopProviders()
	_, span := p.Tracer.Tracer("x").Start(context.Background(), "op")
	span.End()
	_, err := p.Meter.Meter("x").Int64Counter("c")
	assert.NoError(t, err)
}
