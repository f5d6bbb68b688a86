package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsCreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"hirevoice.turn.duration", m.TurnDuration},
		{"hirevoice.backend.duration", m.BackendDuration},
		{"hirevoice.synthesis.duration", m.SynthesisDuration},
		{"hirevoice.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		md := findMetric(rm, tc.name)
		if md == nil {
			t.Errorf("metric %q not found", tc.name)
			continue
		}
		hist, ok := md.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Errorf("metric %q is not a float64 histogram", tc.name)
			continue
		}
		if len(hist.DataPoints) != 1 {
			t.Errorf("metric %q has %d data points, want 1", tc.name, len(hist.DataPoints))
			continue
		}
		if got := hist.DataPoints[0].Count; got != 2 {
			t.Errorf("metric %q count = %d, want 2", tc.name, got)
		}
	}
}

func TestCounterAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBackendRequest(ctx, "chat", "ok")
	m.RecordBackendRequest(ctx, "chat", "ok")
	m.RecordBackendRequest(ctx, "chat", "error")

	rm := collect(t, reader)
	md := findMetric(rm, "hirevoice.backend.requests")
	if md == nil {
		t.Fatal("backend request counter not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("backend request counter is not an int64 sum")
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2 (one per status)", len(sum.DataPoints))
	}

	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsString()] = dp.Value
	}
	if byStatus["ok"] != 2 || byStatus["error"] != 1 {
		t.Fatalf("counts by status = %v, want ok:2 error:1", byStatus)
	}
}

func TestTurnAndDebounceRecorders(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "voice")
	m.RecordTurn(ctx, "manual")
	m.RecordDebounceDecision(ctx, "short")

	rm := collect(t, reader)

	turns := findMetric(rm, "hirevoice.turns")
	if turns == nil {
		t.Fatal("turn counter not found")
	}
	if sum, ok := turns.Data.(metricdata.Sum[int64]); !ok || len(sum.DataPoints) != 2 {
		t.Fatalf("turn counter should have one data point per source")
	}

	if findMetric(rm, "hirevoice.debounce.decisions") == nil {
		t.Fatal("debounce decision counter not found")
	}
}

func TestActiveSessionsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	md := findMetric(rm, "hirevoice.active_sessions")
	if md == nil {
		t.Fatal("active sessions gauge not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatal("active sessions gauge has unexpected shape")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Fatalf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Fatal("DefaultMetrics returned different instances")
	}
}
