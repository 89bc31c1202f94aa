// Package observe holds the OpenTelemetry instruments of the RPC layer.
//
// Tests should build their own [Metrics] with [NewMetrics] and a
// ManualReader-backed provider; production code uses [DefaultMetrics], which
// follows the global provider installed by [InitProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "mq-rpc"

// Metrics holds all instruments. Safe for concurrent use.
type Metrics struct {
	// RPCCalls counts finished calls by queue and outcome
	// (ok, remote_error, timeout, connectivity, protocol, canceled).
	RPCCalls metric.Int64Counter

	// RPCDuration tracks publish-to-resolution latency by queue.
	RPCDuration metric.Float64Histogram

	// PendingCalls tracks calls waiting for a reply.
	PendingCalls metric.Int64UpDownCounter

	// UnmatchedReplies counts replies dropped for lack of a pending call.
	UnmatchedReplies metric.Int64Counter

	// WorkerJobs counts consumed deliveries by queue and status (ok, error, dropped).
	WorkerJobs metric.Int64Counter

	// WorkerDuration tracks handler execution time by queue.
	WorkerDuration metric.Float64Histogram

	// Fallbacks counts gateway calls executed in-process by capability.
	Fallbacks metric.Int64Counter

	// Disables counts manager transitions to Disabled.
	Disables metric.Int64Counter
}

// latencyBuckets in seconds; transcription jobs run for minutes.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RPCCalls, err = m.Int64Counter("mqrpc.rpc.calls",
		metric.WithDescription("Finished RPC calls by queue and outcome."),
	); err != nil {
		return nil, err
	}
	if met.RPCDuration, err = m.Float64Histogram("mqrpc.rpc.duration",
		metric.WithDescription("Latency from publish to reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PendingCalls, err = m.Int64UpDownCounter("mqrpc.rpc.pending",
		metric.WithDescription("Calls waiting for a reply."),
	); err != nil {
		return nil, err
	}
	if met.UnmatchedReplies, err = m.Int64Counter("mqrpc.rpc.unmatched_replies",
		metric.WithDescription("Replies dropped because no call was pending."),
	); err != nil {
		return nil, err
	}
	if met.WorkerJobs, err = m.Int64Counter("mqrpc.worker.jobs",
		metric.WithDescription("Consumed deliveries by queue and status."),
	); err != nil {
		return nil, err
	}
	if met.WorkerDuration, err = m.Float64Histogram("mqrpc.worker.duration",
		metric.WithDescription("Handler execution time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("mqrpc.gateway.fallbacks",
		metric.WithDescription("Gateway calls executed in-process."),
	); err != nil {
		return nil, err
	}
	if met.Disables, err = m.Int64Counter("mqrpc.manager.disables",
		metric.WithDescription("Transitions of the broker manager to Disabled."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordCall records one finished RPC call.
func (m *Metrics) RecordCall(ctx context.Context, queue, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("queue", queue), attribute.String("outcome", outcome))
	m.RPCCalls.Add(ctx, 1, attrs)
	m.RPCDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordJob records one consumed delivery.
func (m *Metrics) RecordJob(ctx context.Context, queue, status string, seconds float64) {
	m.WorkerJobs.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue), attribute.String("status", status)))
	if seconds > 0 {
		m.WorkerDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("queue", queue)))
	}
}

// RecordFallback records one in-process gateway call.
func (m *Metrics) RecordFallback(ctx context.Context, capability string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("capability", capability)))
}
