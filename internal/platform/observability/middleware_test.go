package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bonaevents/storefront/internal/platform/requestctx"
)

func TestRequestLoggerRecordsRoutePattern(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(RequestLoggerMiddleware(metrics))
	router.Get("/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/pi_123", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion log, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/status/{id}" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected status field %v", fields["status"])
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "storefront_http_requests_total", "status", "404"); err != nil || got != 1 {
		t.Fatalf("expected one 404 request counted, got %v (%v)", got, err)
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/create", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error":"internal_server_error"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestTraceMiddlewareHonoursCloudTraceHeader(t *testing.T) {
	var captured requestctx.TraceInfo
	handler := TraceMiddleware("bona-dev")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected trace id propagated, got %q", captured.TraceID)
	}
	if captured.ProjectID != "bona-dev" {
		t.Fatalf("unexpected project %q", captured.ProjectID)
	}
	if !strings.HasPrefix(rec.Header().Get(cloudTraceHeader), captured.TraceID+"/") {
		t.Fatalf("expected trace header echoed, got %q", rec.Header().Get(cloudTraceHeader))
	}
}

func TestParseCloudTraceContextRejectsMalformed(t *testing.T) {
	for _, header := range []string{"", "abc", "105445aa7843bc8bf206b12000100000", "105445aa7843bc8bf206b12000100000/zz", "short/1"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	hook := EventLogger(zap.New(core))

	hook(context.Background(), "checkout.completed", map[string]any{"orders": 2})
	hook(context.Background(), "notification.failed", map[string]any{"error": "timeout"})

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("expected two entries, got %d", len(all))
	}
	if all[0].Level != zapcore.InfoLevel || all[0].ContextMap()["event"] != "checkout.completed" {
		t.Fatalf("unexpected first entry %+v", all[0])
	}
	if all[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected failed events at warn, got %s", all[1].Level)
	}
}
