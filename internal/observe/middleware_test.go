package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

// newHarness wraps a control-surface-like mux in Middleware with in-memory
// metric and span collection.
func newHarness(t *testing.T) *harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	mux := http.NewServeMux()
	mux.HandleFunc("POST /wake", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {})

	return &harness{handler: Middleware(m)(mux), reader: reader, spans: exp}
}

func (h *harness) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		method, path string
		wantCode     int
		wantSpan     string
		wantRoute    string
	}{
		{"POST", "/wake", http.StatusAccepted, "HTTP POST /wake", "/wake"},
		{"GET", "/status", http.StatusOK, "HTTP GET /status", "/status"},
		{"GET", "/nope", http.StatusNotFound, "HTTP GET /nope", "/nope"},
		{"GET", "/wake", http.StatusMethodNotAllowed, "HTTP GET /wake", "/wake"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(tt.method, tt.path, nil)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
				t.Errorf("X-Correlation-ID = %q, want a 32-char trace id", cid)
			}

			spans := h.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if spans[0].Name != tt.wantSpan {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.wantSpan)
			}
			var status int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != int64(tt.wantCode) {
				t.Errorf("span status attribute = %d, want %d", status, tt.wantCode)
			}

			var rm metricdata.ResourceMetrics
			if err := h.reader.Collect(context.Background(), &rm); err != nil {
				t.Fatalf("Collect: %v", err)
			}
			met := findMetric(rm, "voxgate.http.request.duration")
			if met == nil {
				t.Fatal("request duration metric not recorded")
			}
			dp := met.Data.(metricdata.Histogram[float64]).DataPoints
			if len(dp) != 1 || dp[0].Count != 1 {
				t.Fatalf("data points = %+v, want one sample", dp)
			}
			if route, _ := dp[0].Attributes.Value("path"); route.AsString() != tt.wantRoute {
				t.Errorf("path attribute = %q, want %q", route.AsString(), tt.wantRoute)
			}
			if m, _ := dp[0].Attributes.Value("method"); m.AsString() != tt.method {
				t.Errorf("method attribute = %q, want %q", m.AsString(), tt.method)
			}
		})
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	h := newHarness(t)

	rec := h.do("GET", "/status", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})

	if got := rec.Header().Get("X-Seen-Correlation"); got != traceID {
		t.Errorf("handler saw correlation id %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("Traceparent"); got == "" {
		t.Error("response is missing the traceparent header")
	}
}

func TestIsProbe(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/healthz", true},
		{"/readyz", true},
		{"/metrics", true},
		{"/wake", false},
		{"/status", false},
	}
	for _, tt := range tests {
		if got := isProbe(tt.path); got != tt.want {
			t.Errorf("isProbe(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestRouteOf(t *testing.T) {
	r := httptest.NewRequest("GET", "/status", nil)
	if got := routeOf(r); got != "/status" {
		t.Errorf("routeOf without pattern = %q, want /status", got)
	}
	r.Pattern = "POST /wake"
	if got := routeOf(r); got != "/wake" {
		t.Errorf("routeOf(POST /wake) = %q, want /wake", got)
	}
}
