package observe

import (
	"context"
	"errors"
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

func sumFor(t *testing.T, m *metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data is %T, want Sum[int64]", m.Name, m.Data)
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
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
		{"voxgate.turn.duration", m.TurnDuration},
		{"voxgate.response.latency", m.ResponseLatency},
		{"voxgate.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.25)
		tc.h.Record(ctx, 1.5)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("data is %T, want Histogram[float64]", met.Data)
			}
			if len(hist.DataPoints) != 1 {
				t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
			}
			if hist.DataPoints[0].Count != 2 {
				t.Errorf("count = %d, want 2", hist.DataPoints[0].Count)
			}
		})
	}
}

func TestRecordTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "idle", "listening")
	m.RecordTransition(ctx, "idle", "listening")
	m.RecordTransition(ctx, "listening", "streaming")

	rm := collect(t, reader)
	met := findMetric(rm, "voxgate.session.transitions")
	if met == nil {
		t.Fatal("transitions metric not found")
	}
	if got := sumFor(t, met, Attr("from", "idle"), Attr("to", "listening")); got != 2 {
		t.Errorf("idle→listening = %d, want 2", got)
	}
	if got := sumFor(t, met, Attr("from", "listening"), Attr("to", "streaming")); got != 1 {
		t.Errorf("listening→streaming = %d, want 1", got)
	}
}

func TestRecordConnectAttempt(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordConnectAttempt(ctx, nil)
	m.RecordConnectAttempt(ctx, errors.New("refused"))
	m.RecordConnectAttempt(ctx, errors.New("refused"))

	met := findMetric(collect(t, reader), "voxgate.transport.connect_attempts")
	if met == nil {
		t.Fatal("connect attempts metric not found")
	}
	if got := sumFor(t, met, Attr("status", "ok")); got != 1 {
		t.Errorf("ok = %d, want 1", got)
	}
	if got := sumFor(t, met, Attr("status", "error")); got != 2 {
		t.Errorf("error = %d, want 2", got)
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	counters := []struct {
		name string
		c    metric.Int64Counter
		add  int64
	}{
		{"voxgate.audio.bytes_sent", m.BytesSent, 8192},
		{"voxgate.audio.bytes_received", m.BytesReceived, 4096},
		{"voxgate.session.barge_ins", m.BargeIns, 1},
		{"voxgate.session.response_timeouts", m.ResponseTimeouts, 1},
		{"voxgate.playback.dropped_bytes", m.PlaybackDroppedBytes, 960},
		{"voxgate.capture.overflow_bytes", m.CaptureOverflowBytes, 2048},
	}
	for _, tc := range counters {
		tc.c.Add(ctx, tc.add)
	}

	rm := collect(t, reader)
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			if got := sumFor(t, met); got != tc.add {
				t.Errorf("value = %d, want %d", got, tc.add)
			}
		})
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	met := findMetric(collect(t, reader), "voxgate.active_sessions")
	if met == nil {
		t.Fatal("active sessions metric not found")
	}
	if got := sumFor(t, met); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
