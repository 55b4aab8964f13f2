package observe

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// opsMux mirrors the routes a running parrot serves. ready controls the
// /readyz answer.
func opsMux(ready *bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# parrot metrics\n"))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !*ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return mux
}

type opsFixture struct {
	handler http.Handler
	spans   *tracetest.SpanRecorder
	metrics *Metrics
	collect func() metricdata.ResourceMetrics
	ready   bool
}

func newOpsFixture(t *testing.T) *opsFixture {
	t.Helper()
	m, reader := newTestMetrics(t)
	f := &opsFixture{spans: useRecorder(t), metrics: m}
	f.collect = func() metricdata.ResourceMetrics { return collect(t, reader) }
	f.handler = Middleware(m)(opsMux(&f.ready))
	return f
}

func (f *opsFixture) get(path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *opsFixture) lastSpan(t *testing.T) sdktrace.ReadOnlySpan {
	t.Helper()
	ended := f.spans.Ended()
	if len(ended) == 0 {
		t.Fatal("no spans recorded")
	}
	return ended[len(ended)-1]
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	f := newOpsFixture(t)

	tests := []struct {
		path      string
		ready     bool
		wantName  string
		wantCode  int
		wantError bool
	}{
		{path: "/readyz", ready: true, wantName: "GET /readyz", wantCode: 200},
		{path: "/readyz", ready: false, wantName: "GET /readyz", wantCode: 503, wantError: true},
		{path: "/metrics", wantName: "GET /metrics", wantCode: 200},
		{path: "/no/such/route", wantName: unmatchedRoute, wantCode: 404},
	}
	for _, tt := range tests {
		f.ready = tt.ready
		rec := f.get(tt.path, nil)
		if rec.Code != tt.wantCode {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.wantCode)
		}
		s := f.lastSpan(t)
		if s.Name() != tt.wantName {
			t.Errorf("GET %s span = %q, want %q", tt.path, s.Name(), tt.wantName)
		}
		got := attrs(s)
		if got["http.route"] != tt.wantName || got["url.path"] != tt.path {
			t.Errorf("GET %s attributes = %v", tt.path, got)
		}
		if (s.Status().Code == codes.Error) != tt.wantError {
			t.Errorf("GET %s span status = %+v, want error %v", tt.path, s.Status(), tt.wantError)
		}
	}
}

func TestMiddleware_RecordsLatencyByRouteAndStatus(t *testing.T) {
	f := newOpsFixture(t)

	f.get("/readyz", nil)
	f.ready = true
	f.get("/readyz", nil)
	f.get("/readyz", nil)
	f.get("/does-not-exist", nil)

	met := findMetric(f.collect(), "parrot.http.request.duration")
	if met == nil {
		t.Fatal("parrot.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want histogram", met.Data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		status, _ := dp.Attributes.Value("status")
		counts[route.AsString()+" "+status.Emit()] += dp.Count
	}
	want := map[string]uint64{
		"GET /readyz 503": 1,
		"GET /readyz 200": 2,
		"unmatched 404":   1,
	}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("count[%s] = %d, want %d (all: %v)", k, counts[k], v, counts)
		}
	}
	if len(counts) != len(want) {
		t.Errorf("series = %v, want %d", counts, len(want))
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	f := newOpsFixture(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var inside string
	handler := Middleware(f.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inside = TraceID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if inside != traceID {
		t.Errorf("handler trace ID = %q, want %q", inside, traceID)
	}
	s := f.lastSpan(t)
	if s.Parent().SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("parent span = %s, want 00f067aa0ba902b7", s.Parent().SpanID())
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	f := newOpsFixture(t)
	buf := captureLogs(t, slog.LevelInfo)

	f.get("/metrics", nil)
	f.get("/healthz", nil)
	if buf.Len() != 0 {
		t.Errorf("scrape and liveness logged at info: %s", buf.String())
	}

	f.get("/readyz", nil)
	if out := buf.String(); !strings.Contains(out, "level=INFO") || !strings.Contains(out, "status=503") {
		t.Errorf("failing readiness log = %q, want info with status=503", out)
	}

	buf.Reset()
	f.get("/boom", nil)
	if out := buf.String(); !strings.Contains(out, "level=WARN") {
		t.Errorf("server error log = %q, want warn", out)
	}
}

func TestRequestLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		route  string
		status int
		want   slog.Level
	}{
		{"GET /metrics", 200, slog.LevelDebug},
		{"GET /healthz", 200, slog.LevelDebug},
		{"GET /readyz", 200, slog.LevelInfo},
		{"GET /readyz", 503, slog.LevelInfo},
		{unmatchedRoute, 404, slog.LevelInfo},
		{unmatchedRoute, 500, slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.route, tt.status); got != tt.want {
			t.Errorf("requestLevel(%q, %d) = %v, want %v", tt.route, tt.status, got, tt.want)
		}
	}
}
