package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Forecast provider call rate by status label.
	ForecastAPICallsTotal *prometheus.CounterVec

	// Forecast provider latency. Watch for: p95 > 2s (upstream degradation).
	ForecastAPIDuration *prometheus.HistogramVec

	// Forecast provider failures by category (timeout, upstream, circuit_open, ...).
	ForecastAPIErrorsTotal *prometheus.CounterVec

	// Narrative service calls by variant and status. Watch for: error ratio, parse failures.
	NarrativeCallsTotal *prometheus.CounterVec

	// Narrative service latency by variant. Text generation is slow; p99 near the timeout is a warning.
	NarrativeDuration *prometheus.HistogramVec

	// Notification outcomes by channel (sent, duplicate, failed).
	NotificationsTotal *prometheus.CounterVec

	// Pipeline runs aborted, by failure kind.
	PipelineFailuresTotal *prometheus.CounterVec

	// Cache hits. Hit rate = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses.
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors by operation.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache warming runs and failed runs.
	CacheWarmingTotal       prometheus.Counter
	CacheWarmingErrorsTotal prometheus.Counter

	// Cache misses observed while another miss for the same key was in progress.
	CacheStampedeDetectedTotal prometheus.Counter

	// Concurrent lookups that joined an in-flight forecast fetch.
	RequestCoalescingHitsTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Scheduled daily runs by outcome.
	ScheduledRunsTotal *prometheus.CounterVec

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ForecastAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastApiCallsTotal",
			Help: "Total number of forecast provider calls",
		},
		[]string{"status"},
	)
	ForecastAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastApiDurationSeconds",
			Help:    "Forecast provider latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	ForecastAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastApiErrorsTotal",
			Help: "Forecast provider failures by category",
		},
		[]string{"category"},
	)
	NarrativeCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrativeCallsTotal",
			Help: "Total number of narrative service calls",
		},
		[]string{"variant", "status"},
	)
	NarrativeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narrativeDurationSeconds",
			Help:    "Narrative service latency in seconds (per request)",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"variant"},
	)
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notificationsTotal",
			Help: "Notification dispatch outcomes",
		},
		[]string{"channel", "outcome"},
	)
	PipelineFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelineFailuresTotal",
			Help: "Report pipeline runs aborted, by failure kind",
		},
		[]string{"kind"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation",
		},
		[]string{"operation"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed location",
		},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that overlapped another in-progress miss for the same key",
		},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Forecast lookups served by joining an in-flight fetch",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	ScheduledRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduledRunsTotal",
			Help: "Scheduled daily notification runs by outcome",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ForecastAPICallsTotal, ForecastAPIDuration, ForecastAPIErrorsTotal,
		NarrativeCallsTotal, NarrativeDuration,
		NotificationsTotal, PipelineFailuresTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheWarmingTotal, CacheWarmingErrorsTotal,
		CacheStampedeDetectedTotal, RequestCoalescingHitsTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		ScheduledRunsTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// requests and rejects report counts over the overload window.
func RegisterRateLimitGauges(requests, rejects func() int) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(requests()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(rejects()) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
// State names are "closed", "open" and "half_open" (gobreaker's "half-open" is accepted too).
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(circuitBreakerStateValue(to))
}

func circuitBreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half_open", "half-open":
		return 2
	default:
		return 0
	}
}

// StatusLabel maps an upstream HTTP status code to a low-cardinality metric label.
func StatusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
