package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across client, narrative, notify and http packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/weather", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("POST", "/summarize").Observe(0.01)
	ForecastAPICallsTotal.WithLabelValues("success").Inc()
	ForecastAPIDuration.WithLabelValues("server_error").Observe(0.1)
	NarrativeCallsTotal.WithLabelValues("summary", "success").Inc()
	NarrativeDuration.WithLabelValues("detailed").Observe(3)
	NotificationsTotal.WithLabelValues("email", "sent").Inc()
	PipelineFailuresTotal.WithLabelValues("FetchUnavailable").Inc()
	CacheHitsTotal.WithLabelValues("forecast").Inc()
	CacheMissesTotal.WithLabelValues("forecast").Inc()
	CacheErrorsTotal.WithLabelValues("get").Inc()
	ScheduledRunsTotal.WithLabelValues("sent").Inc()
}

func TestRecordCircuitBreakerTransition_SetsGauge(t *testing.T) {
	tests := []struct {
		to   string
		want float64
	}{
		{"open", 1},
		{"half-open", 2},
		{"half_open", 2},
		{"closed", 0},
	}
	for _, tt := range tests {
		RecordCircuitBreakerTransition("test_component", "closed", tt.to)
		var m dto.Metric
		if err := CircuitBreakerState.WithLabelValues("test_component").Write(&m); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if got := m.GetGauge().GetValue(); got != tt.want {
			t.Errorf("state gauge after transition to %q = %v, want %v", tt.to, got, tt.want)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "success"},
		{204, "success"},
		{429, "rate_limited"},
		{404, "client_error"},
		{503, "server_error"},
		{0, "error"},
	}
	for _, tt := range tests {
		if got := StatusLabel(tt.code); got != tt.want {
			t.Errorf("StatusLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}

func TestRegisterRateLimitGauges_Exposed(t *testing.T) {
	RegisterRateLimitGauges(func() int { return 7 }, func() int { return 2 })
	// A second registration is ignored.
	RegisterRateLimitGauges(func() int { return 0 }, func() int { return 0 })

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()
	if !strings.Contains(body, "rateLimitRequestsInWindow 7") {
		t.Error("expected rateLimitRequestsInWindow 7 in metrics output")
	}
	if !strings.Contains(body, "rateLimitRejectsInWindow 2") {
		t.Error("expected rateLimitRejectsInWindow 2 in metrics output")
	}
}
