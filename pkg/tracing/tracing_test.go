package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabled(t *testing.T) {
	tracer, closeFn, err := InitTracer(Config{})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	assert.NotPanics(t, closeFn)
}

func TestStartAndFail(t *testing.T) {
	mt := mocktracer.New()
	prev := opentracing.GlobalTracer()
	opentracing.SetGlobalTracer(mt)
	defer opentracing.SetGlobalTracer(prev)

	span, ctx := Start(context.Background(), "risk.Plan")
	require.NotNil(t, opentracing.SpanFromContext(ctx))
	Fail(span, errors.New("boom"))
	Fail(span, nil)
	span.Finish()

	finished := mt.FinishedSpans()
	require.Len(t, finished, 1)
	assert.Equal(t, "risk.Plan", finished[0].OperationName)
	assert.Equal(t, true, finished[0].Tag("error"))
	assert.Equal(t, "boom", finished[0].Tag("error.message"))
}

func TestPositionTags(t *testing.T) {
	mt := mocktracer.New()
	prev := opentracing.GlobalTracer()
	opentracing.SetGlobalTracer(mt)
	defer opentracing.SetGlobalTracer(prev)

	span, _ := Start(context.Background(), "executor.Start", Position("p-1", "BTCUSDT"))
	span.Finish()

	finished := mt.FinishedSpans()
	require.Len(t, finished, 1)
	assert.Equal(t, "p-1", finished[0].Tag("position_id"))
	assert.Equal(t, "BTCUSDT", finished[0].Tag("symbol"))
}
