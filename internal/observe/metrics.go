// Package observe provides application-wide observability primitives for
// voxgate: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxgate metrics.
const meterName = "github.com/MrWong99/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks the time from wake to END for a completed turn.
	TurnDuration metric.Float64Histogram

	// ResponseLatency tracks the time from END to AUDIO_START.
	ResponseLatency metric.Float64Histogram

	// --- Counters ---

	// SessionTransitions counts state machine transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	SessionTransitions metric.Int64Counter

	// BytesSent counts captured audio bytes delivered to the service.
	BytesSent metric.Int64Counter

	// BytesReceived counts response audio bytes received from the service.
	BytesReceived metric.Int64Counter

	// ReconnectAttempts counts dial attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	ReconnectAttempts metric.Int64Counter

	// BargeIns counts wakes that interrupted a playing response.
	BargeIns metric.Int64Counter

	// ResponseTimeouts counts turns abandoned while waiting for a response.
	ResponseTimeouts metric.Int64Counter

	// --- Loss counters ---

	// PlaybackDroppedBytes counts response audio dropped after the feed
	// retry budget was spent.
	PlaybackDroppedBytes metric.Int64Counter

	// CaptureOverflowBytes counts captured audio dropped because the capture
	// ring was full.
	CaptureOverflowBytes metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a session is outside Idle.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for turn
// and response timings.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("voxgate.turn.duration",
		metric.WithDescription("Time from wake to end of captured speech."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = m.Float64Histogram("voxgate.response.latency",
		metric.WithDescription("Time from END to the first response audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionTransitions, err = m.Int64Counter("voxgate.session.transitions",
		metric.WithDescription("Session state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("voxgate.audio.bytes_sent",
		metric.WithDescription("Captured audio bytes sent to the service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.BytesReceived, err = m.Int64Counter("voxgate.audio.bytes_received",
		metric.WithDescription("Response audio bytes received from the service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("voxgate.transport.connect_attempts",
		metric.WithDescription("Transport dial attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxgate.session.barge_ins",
		metric.WithDescription("Wakes that interrupted response playback."),
	); err != nil {
		return nil, err
	}
	if met.ResponseTimeouts, err = m.Int64Counter("voxgate.session.response_timeouts",
		metric.WithDescription("Turns abandoned waiting for a response."),
	); err != nil {
		return nil, err
	}

	// Loss counters.
	if met.PlaybackDroppedBytes, err = m.Int64Counter("voxgate.playback.dropped_bytes",
		metric.WithDescription("Response audio dropped after the feed retry budget."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.CaptureOverflowBytes, err = m.Int64Counter("voxgate.capture.overflow_bytes",
		metric.WithDescription("Captured audio dropped on a full capture buffer."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.active_sessions",
		metric.WithDescription("Number of sessions outside the idle state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition records a state machine transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordConnectAttempt records one dial attempt with its outcome.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ReconnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
