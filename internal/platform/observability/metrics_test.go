package observability

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	metrics.IncIntentCreated(true)
	metrics.IncIntentCreated(false)
	metrics.IncIntentCreated(false)
	metrics.IncWebhookEvent("payment_succeeded")
	metrics.IncCheckoutOutcome("completed")
	metrics.IncNotification(false)
	metrics.ObserveRequest("POST", "/create", 200, 150*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	cases := []struct {
		name  string
		label string
		value string
		want  float64
	}{
		{"storefront_payment_intents_created_total", "kind", "free", 1},
		{"storefront_payment_intents_created_total", "kind", "paid", 2},
		{"storefront_webhook_events_total", "kind", "payment_succeeded", 1},
		{"storefront_checkout_outcomes_total", "outcome", "completed", 1},
		{"storefront_confirmation_notifications_total", "result", "failed", 1},
		{"storefront_http_requests_total", "route", "/create", 1},
	}
	for _, tc := range cases {
		got, err := fetchCounterValue(mfs, tc.name, tc.label, tc.value)
		if err != nil {
			t.Fatalf("fetch %s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s{%s=%q}: expected %v, got %v", tc.name, tc.label, tc.value, tc.want, got)
		}
	}

	if got, err := fetchHistogramSum(mfs, "storefront_http_request_duration_seconds", "route", "/create"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var metrics *Metrics
	metrics.IncIntentCreated(true)
	metrics.IncWebhookEvent("")
	metrics.IncCheckoutOutcome("failed")
	metrics.IncNotification(true)
	metrics.ObserveRequest("GET", "/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.IncWebhookEvent("unrecognized")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `storefront_webhook_events_total{kind="unrecognized"} 1`) {
		t.Fatalf("expected webhook counter in exposition, got %s", rec.Body.String())
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
