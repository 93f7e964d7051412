package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveCoachCall("turn", "ok", time.Second)
	c.TopicCompleted()
	c.ReportBuilt("empty")

	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	c := NewCollector()
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/topics/{module}/{topic}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", c.Handler())

	for _, path := range []string{"/topics/values/core_values", "/topics/talents/flow_state"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}
	c.ObserveCoachCall("turn", "timeout", 2*time.Second)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	want := `innercompass_http_requests_total{method="GET",route="/topics/{module}/{topic}",status="204"} 2`
	if !strings.Contains(text, want) {
		t.Errorf("metrics output missing %q\n%s", want, text)
	}
	if strings.Contains(text, "core_values") {
		t.Error("path parameters leaked into labels")
	}
	if !strings.Contains(text, `innercompass_coach_calls_total{op="turn",outcome="timeout"} 1`) {
		t.Errorf("coach call not recorded\n%s", text)
	}
}
