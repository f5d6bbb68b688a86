// Package observe provides application-wide observability primitives for
// hirevoice: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter is installed by [InitProvider] so that metrics are scraped via the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all hirevoice metrics.
const meterName = "github.com/hirevoice/hirevoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks the time from candidate turn submission to an
	// accepted interviewer reply.
	TurnDuration metric.Float64Histogram

	// BackendDuration tracks interview backend call latency. Use with
	// attribute.String("action", ...).
	BackendDuration metric.Float64Histogram

	// SynthesisDuration tracks time spent speaking one interviewer utterance.
	SynthesisDuration metric.Float64Histogram

	// HTTPRequestDuration tracks inbound HTTP request latency. Recorded by
	// [Middleware]. Use with attributes "method" and "path".
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// BackendRequests counts backend calls. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// BargeIns counts candidate interruptions of interviewer speech.
	BargeIns metric.Int64Counter

	// Turns counts submitted candidate turns. Use with attribute:
	//   attribute.String("source", "voice"|"manual")
	Turns metric.Int64Counter

	// DebounceDecisions counts silence-delay choices. Use with attribute:
	//   attribute.String("delay", "short"|"long")
	DebounceDecisions metric.Int64Counter

	// CompletedInterviews counts sessions reaching the completed state.
	CompletedInterviews metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational turn latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("hirevoice.turn.duration",
		metric.WithDescription("Latency from candidate turn submission to accepted reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendDuration, err = m.Float64Histogram("hirevoice.backend.duration",
		metric.WithDescription("Latency of interview backend calls by action."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("hirevoice.synthesis.duration",
		metric.WithDescription("Duration of interviewer speech synthesis per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("hirevoice.http.request.duration",
		metric.WithDescription("Inbound HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BackendRequests, err = m.Int64Counter("hirevoice.backend.requests",
		metric.WithDescription("Total backend requests by action and status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("hirevoice.barge_ins",
		metric.WithDescription("Total candidate interruptions of interviewer speech."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("hirevoice.turns",
		metric.WithDescription("Total submitted candidate turns by source."),
	); err != nil {
		return nil, err
	}
	if met.DebounceDecisions, err = m.Int64Counter("hirevoice.debounce.decisions",
		metric.WithDescription("Silence-delay choices by bucket."),
	); err != nil {
		return nil, err
	}
	if met.CompletedInterviews, err = m.Int64Counter("hirevoice.interviews.completed",
		metric.WithDescription("Total interviews reaching completion."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("hirevoice.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordBackendRequest records a backend request counter increment with the
// standard attribute set.
func (m *Metrics) RecordBackendRequest(ctx context.Context, action, status string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

// RecordDebounceDecision records a silence-delay choice.
func (m *Metrics) RecordDebounceDecision(ctx context.Context, bucket string) {
	m.DebounceDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("delay", bucket)),
	)
}

// RecordTurn records a submitted candidate turn.
func (m *Metrics) RecordTurn(ctx context.Context, source string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
