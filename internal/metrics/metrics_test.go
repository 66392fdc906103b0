package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tinytelemetry/jitlens/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestListenerCountsNotifications(t *testing.T) {
	m := New()
	l := m.Listener()

	l.HandleReadStart()
	l.HandleEvent(model.Event{Type: model.EventQueued})
	l.HandleEvent(model.Event{Type: model.EventQueued})
	l.HandleEvent(model.Event{Type: model.EventCompiledC2})
	l.HandleCodeCacheEvent(model.CodeCacheEvent{Type: model.CodeCacheSweeper})
	l.HandleDiagnostic(model.Diagnostic{Severity: model.SeverityRecoverable, Category: model.DiagClassNotFound})
	l.HandleLogEntry("ignored")
	l.HandleReadComplete()

	if got := testutil.ToFloat64(m.Events.WithLabelValues("queued")); got != 2 {
		t.Errorf("queued events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Events.WithLabelValues("compiled_c2")); got != 1 {
		t.Errorf("compiled_c2 events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CodeCacheEvents.WithLabelValues("sweeper")); got != 1 {
		t.Errorf("sweeper events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Diagnostics.WithLabelValues("recoverable", model.DiagClassNotFound)); got != 1 {
		t.Errorf("diagnostics = %v, want 1", got)
	}
}

func TestRecordRunOutcomes(t *testing.T) {
	m := New()

	m.RecordRun(&model.RunSummary{RecordsProcessed: 10, NativeBytes: 2048, Classes: 3}, time.Second)
	m.RecordRun(&model.RunSummary{RecordsProcessed: 5, Fatal: true}, time.Second)
	m.RecordRun(&model.RunSummary{Stopped: true}, time.Second)
	m.RecordRunFailure()

	for outcome, want := range map[string]float64{"ok": 1, "fatal": 1, "stopped": 1, "failed": 1} {
		if got := testutil.ToFloat64(m.Runs.WithLabelValues(outcome)); got != want {
			t.Errorf("runs{outcome=%s} = %v, want %v", outcome, got, want)
		}
	}
	if got := testutil.ToFloat64(m.RecordsProcessed); got != 15 {
		t.Errorf("records processed = %v, want 15", got)
	}
	// Gauges keep the last run.
	if got := testutil.ToFloat64(m.NativeBytes); got != 0 {
		t.Errorf("native bytes gauge = %v, want 0", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.RecordRun(&model.RunSummary{}, 10*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"jitlens_runs_total", "jitlens_run_duration_seconds", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("exposition missing %s", name)
		}
	}
}

func TestGinMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/runs/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/api/runs/a", "/api/runs/b", "/nowhere"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/runs/:id", "204")); got != 2 {
		t.Errorf("route requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}
}
