package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("operation", "consume"),
		attribute.String("retainer_id", "456"),
		attribute.String("outcome", "success"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("operation"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestRecordRetainerOperation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "trustledger"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRetainerOperation(ctx, "consume", OutcomeSuccess)
	m.RecordRetainerOperation(ctx, "consume", OutcomeSuccess)
	m.RecordRetainerOperation(ctx, "consume", "insufficient_balance")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var total int64
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		if metric.Name != "trustledger_retainer_operations_total" {
			continue
		}
		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
	}
	assert.Equal(t, int64(3), total)

	var nilMetrics *Metrics
	nilMetrics.RecordRetainerOperation(ctx, "consume", OutcomeSuccess)
}
