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

// withTracing installs an in-memory tracer provider as the global one for
// the duration of the test.
func withTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

type seen struct {
	cid, session string
}

// adminMux mimics the admin routes: /readyz answers status, anything else
// registered answers 200.
func adminMux(status int, p *seen) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		p.cid = CorrelationID(r.Context())
		p.session = SessionID(r.Context())
		w.WriteHeader(status)
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {})
	return mux
}

func serve(t *testing.T, m *Metrics, session func() string, status int, req *http.Request) (*httptest.ResponseRecorder, *seen) {
	t.Helper()
	p := &seen{}
	rec := httptest.NewRecorder()
	Middleware(m, session)(adminMux(status, p)).ServeHTTP(rec, req)
	return rec, p
}

func TestMiddleware_SpanAndCorrelationID(t *testing.T) {
	exp := withTracing(t)
	m, _ := newTestMetrics(t)

	rec, p := serve(t, m, nil, http.StatusServiceUnavailable, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if len(p.cid) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", p.cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != p.cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, p.cid)
	}
	if got := rec.Header().Get("X-Session-ID"); got != "" {
		t.Errorf("X-Session-ID = %q without a session source", got)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /readyz" {
		t.Fatalf("spans = %v", spans)
	}
	var status int64
	var route string
	for _, a := range spans[0].Attributes {
		switch a.Key {
		case "http.response.status_code":
			status = a.Value.AsInt64()
		case "http.route":
			route = a.Value.AsString()
		}
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("span status attribute = %d, want 503", status)
	}
	if route != "GET /readyz" {
		t.Errorf("span route = %q", route)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	withTracing(t)
	m, _ := newTestMetrics(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec, p := serve(t, m, nil, http.StatusOK, req)

	const want = "4bf92f3577b34da6a3ce929d0e0e4736"
	if p.cid != want || rec.Header().Get("X-Correlation-ID") != want {
		t.Errorf("correlation ID = %q (header %q), want %q", p.cid, rec.Header().Get("X-Correlation-ID"), want)
	}
}

func TestMiddleware_SessionHeader(t *testing.T) {
	withTracing(t)
	m, _ := newTestMetrics(t)

	rec, p := serve(t, m, func() string { return "sess-42" }, http.StatusOK,
		httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if got := rec.Header().Get("X-Session-ID"); got != "sess-42" {
		t.Errorf("X-Session-ID = %q, want sess-42", got)
	}
	if p.session != "sess-42" {
		t.Errorf("handler saw session %q", p.session)
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	withTracing(t)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	serve(t, m, nil, http.StatusOK, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	serve(t, m, nil, http.StatusOK, httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	met := findMetric(collect(t, reader), "avatarlive.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	got := map[string]string{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		status, _ := dp.Attributes.Value("status")
		got[route.AsString()] = status.AsString()
	}
	want := map[string]string{"GET /metrics": "200", unmatchedRoute: "404"}
	for route, status := range want {
		if got[route] != status {
			t.Errorf("route %q status = %q, want %q (all: %v)", route, got[route], status, got)
		}
	}
}
