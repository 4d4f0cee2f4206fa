package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledProviderNestsSpans(t *testing.T) {
	p, err := InitTracer(context.Background(), Config{ServiceName: "airplay"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx, parent := p.StartSpan(context.Background(), "run")
	_, child := p.StartSpan(ctx, "batch", attribute.Int("batch", 1))
	assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())
	child.End()
	parent.End()
}

func TestSpanRecordsErrors(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	p := &Provider{tp: tp, tracer: tp.Tracer("test")}

	ctx, span := p.StartSpan(context.Background(), "retry")
	AddEvent(ctx, "relaunched")
	SetError(ctx, errors.New("artifact missing"))
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "retry", spans[0].Name)
	assert.Len(t, spans[0].Events, 2) // relaunched + exception
}
