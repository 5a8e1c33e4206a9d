package llm

import (
	"context"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInvokeRecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	gen := &scriptedGenerator{errs: []error{unavailable(), unavailable(), unavailable()}}
	iv := NewInvoker(gen, WithTimer(func() backoff.Timer { return newRecordingTimer() }))
	_, err := iv.Invoke(context.Background(), CallSpec{Name: "distill", Policy: testPolicy(3)}, "")
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "llm.invoke", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.String("llm.outcome", OutcomeExhausted))
	assert.Contains(t, span.Attributes(), attribute.Int("llm.attempts", 3))

	var retries int
	for _, ev := range span.Events() {
		if ev.Name == "retry" {
			retries++
		}
	}
	assert.Equal(t, 2, retries)
}
