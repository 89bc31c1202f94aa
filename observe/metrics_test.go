package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func findSum(rm metricdata.ResourceMetrics, name string) (metricdata.Sum[int64], bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				s, ok := m.Data.(metricdata.Sum[int64])
				return s, ok
			}
		}
	}
	return metricdata.Sum[int64]{}, false
}

func TestRecordCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCall(ctx, "llm", "ok", 0.2)
	m.RecordCall(ctx, "llm", "timeout", 1)
	m.RecordCall(ctx, "llm", "ok", 0.3)

	sum, ok := findSum(collect(t, reader), "mqrpc.rpc.calls")
	if !ok {
		t.Fatal("mqrpc.rpc.calls not found")
	}
	var okCount int64
	for _, dp := range sum.DataPoints {
		if v, _ := dp.Attributes.Value(attribute.Key("outcome")); v.AsString() == "ok" {
			okCount = dp.Value
		}
	}
	if okCount != 2 {
		t.Fatalf("expect 2 ok calls, got %d", okCount)
	}
}

func TestRecordJobAndFallback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordJob(ctx, "asr", "error", 0.1)
	m.RecordFallback(ctx, "asr")

	rm := collect(t, reader)
	if _, ok := findSum(rm, "mqrpc.worker.jobs"); !ok {
		t.Fatal("mqrpc.worker.jobs not found")
	}
	if _, ok := findSum(rm, "mqrpc.gateway.fallbacks"); !ok {
		t.Fatal("mqrpc.gateway.fallbacks not found")
	}
}
