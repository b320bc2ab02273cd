package observability

import (
	"context"
	"errors"
	"testing"

	"parley/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := Tracer
	Tracer = tp.Tracer("test")
	t.Cleanup(func() {
		Tracer = prev
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartOperationFinish(t *testing.T) {
	rec := recordSpans(t)

	span, _ := StartOperation(context.Background(), "MessageService.SendMessage", 7, attribute.Int64("conversation.id", 3))
	span.Finish(nil)

	span, _ = StartOperation(context.Background(), "MessageService.EditMessage", 7)
	span.Finish(models.NewForbiddenError("You can only edit your own messages"))

	span, _ = StartOperation(context.Background(), "MessageService.ForwardMessage", 7)
	span.Finish(errors.New("connection refused"))

	ended := rec.Ended()
	require.Len(t, ended, 3)

	ok := ended[0]
	assert.Equal(t, "MessageService.SendMessage", ok.Name())
	actor, found := attr(ok.Attributes(), "actor.id")
	require.True(t, found)
	assert.EqualValues(t, 7, actor.AsInt64())
	conv, found := attr(ok.Attributes(), "conversation.id")
	require.True(t, found)
	assert.EqualValues(t, 3, conv.AsInt64())
	assert.Equal(t, codes.Unset, ok.Status().Code)

	rejected := ended[1]
	code, found := attr(rejected.Attributes(), "parley.rejection")
	require.True(t, found)
	assert.Equal(t, models.CodeForbidden, code.AsString())
	assert.Equal(t, codes.Unset, rejected.Status().Code, "domain rejections are not span failures")
	assert.Empty(t, rejected.Events())

	failed := ended[2]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "connection refused", failed.Status().Description)
	_, found = attr(failed.Attributes(), "parley.rejection")
	assert.False(t, found)
}

func TestInitTracing(t *testing.T) {
	prev := Tracer
	t.Cleanup(func() { Tracer = prev })

	shutdown, err := InitTracing(TracingConfig{ServiceName: "parley-test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = InitTracing(TracingConfig{ServiceName: "parley-test", Enabled: true, Exporter: "zipkin"})
	assert.ErrorContains(t, err, "unknown tracing exporter")

	_, err = InitTracing(TracingConfig{ServiceName: "parley-test", Enabled: true, Exporter: "otlp"})
	assert.ErrorContains(t, err, "OTLP_ENDPOINT")
}
