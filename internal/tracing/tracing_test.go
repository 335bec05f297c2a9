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

func withMockTracer(t *testing.T) *mocktracer.MockTracer {
	t.Helper()

	prev := opentracing.GlobalTracer()
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	t.Cleanup(func() { opentracing.SetGlobalTracer(prev) })
	return tracer
}

func TestStartStage(t *testing.T) {
	tracer := withMockTracer(t)

	ctx, finish := StartStage(context.Background(), "acquire", map[string]interface{}{"job_id": "job-1"})
	_, finishChild := StartStage(ctx, "compose", nil)
	finishChild(errors.New("ffmpeg exited"))
	finish(nil)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)

	child, parent := spans[0], spans[1]
	assert.Equal(t, "compose", child.OperationName)
	assert.Equal(t, true, child.Tag("error"))
	assert.Equal(t, parent.SpanContext.SpanID, child.ParentID)

	assert.Equal(t, "acquire", parent.OperationName)
	assert.Equal(t, "job-1", parent.Tag("job_id"))
	assert.Nil(t, parent.Tag("error"))
}

func TestNilSpanHelpers(t *testing.T) {
	assert.NotPanics(t, func() {
		FinishSpan(nil)
		LogError(nil, errors.New("x"))
		SetTag(nil, "k", "v")
	})
}
