package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_RecordsErrorStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	o := &Observability{tracerProvider: tp, tracer: tp.Tracer("test")}

	_, end := o.StartSpan(context.Background(), "pipeline.execute", attribute.String("stage", "execute"))
	end(errors.New("relation does not exist"))

	_, end = o.StartSpan(context.Background(), "pipeline.generate")
	end(nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "pipeline.execute", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}

func TestNoop_IsSafe(t *testing.T) {
	o := NewNoop()
	assert.NotPanics(t, func() {
		ctx, end := o.StartSpan(context.Background(), "x")
		o.RecordRun(ctx, "answered")
		o.RecordStageDuration(ctx, "generate", time.Millisecond, "ok")
		end(nil)
		o.Shutdown()
	})
}
