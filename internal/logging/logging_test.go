package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Rogers-F/handoff-engine/internal/config"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		logger, err := New(config.LogSettings{Level: "debug", Format: format})
		require.NoError(t, err, format)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	}
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(config.LogSettings{Level: "loud", Format: "json"})
	assert.Error(t, err)

	_, err = New(config.LogSettings{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestFields_TraceID(t *testing.T) {
	assert.Empty(t, Fields(context.Background()))

	ctx := WithTraceID(context.Background(), "trace-1")
	assert.Equal(t, "trace-1", TraceIDFromContext(ctx))

	fields := Fields(ctx)
	require.Len(t, fields, 1)
	assert.Equal(t, "trace_id", fields[0].Key)
	assert.Equal(t, "trace-1", fields[0].String)
}

func TestFields_SpanID(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx := trace.ContextWithSpanContext(WithTraceID(context.Background(), "trace-1"), sc)

	fields := Fields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "span_id", fields[1].Key)
	assert.Equal(t, sc.SpanID().String(), fields[1].String)
}

func TestFor(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	For(WithTraceID(context.Background(), "trace-9"), zap.New(core)).Info("phase started")

	entries := logs.FilterField(zap.String("trace_id", "trace-9")).All()
	assert.Len(t, entries, 1)
}
