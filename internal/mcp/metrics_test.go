package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/commands"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func sumInt64(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetrics_RecordInvocation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewMetrics(mp.Meter(instrumentationName), zap.NewNop())

	ctx := context.Background()
	m.RecordInvocation(ctx, "chat_send", 100*time.Millisecond, nil)
	m.RecordInvocation(ctx, "chat_send", 50*time.Millisecond, commands.ErrInvalidArgument)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(2), sumInt64(t, rm, "ragd.mcp.tool.invocations_total"))
	assert.Equal(t, int64(1), sumInt64(t, rm, "ragd.mcp.tool.errors_total"))
}

func TestMetrics_Track(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewMetrics(mp.Meter(instrumentationName), nil)

	ctx := context.Background()
	done := m.track(ctx, "ingest_pdf")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(1), sumInt64(t, rm, "ragd.mcp.tool.active_requests"))

	done(nil)
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(0), sumInt64(t, rm, "ragd.mcp.tool.active_requests"))
	assert.Equal(t, int64(1), sumInt64(t, rm, "ragd.mcp.tool.invocations_total"))
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("days: %w", commands.ErrInvalidArgument), "validation_error"},
		{fmt.Errorf("open: %w", extract.ErrInvalidDocument), "validation_error"},
		{fmt.Errorf("%w: path is required", errInvalidInput), "validation_error"},
		{commands.ErrUnknownCommand, "not_found"},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("%w: upsert", ingestion.ErrIngestionFatal), "ingestion_error"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err), "%v", tt.err)
	}
}
