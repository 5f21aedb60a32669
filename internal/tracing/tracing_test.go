package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, tp)
}

func TestInitTracer(t *testing.T) {
	// The exporter connects lazily, so no collector is needed.
	tp, err := InitTracer(context.Background(), "http://127.0.0.1:4318/v1/traces")
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(context.Background(), "span")
	span.End()
	assert.True(t, span.SpanContext().IsValid())

	// Nothing is listening; only bound how long the final flush may take.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tp.Shutdown(ctx)
}
