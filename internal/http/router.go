package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/winter-report-service/internal/observability"
)

// RouterConfig holds the per-route middleware settings.
type RouterConfig struct {
	// RequestTimeout bounds /weather, /report and /summarize. /notify/daily is bounded by
	// the per-call upstream timeouts instead.
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
}

// NewRouter wires handler routes and middleware.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, h.monitor.Tracker()))

	bounded := api.NewRoute().Subrouter()
	if cfg.RequestTimeout > 0 {
		bounded.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	bounded.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)
	bounded.HandleFunc("/report", h.GetReport).Methods(http.MethodGet)
	bounded.HandleFunc("/summarize", h.PostSummarize).Methods(http.MethodPost)

	api.HandleFunc("/notify/daily", h.NotifyDaily).Methods(http.MethodGet, http.MethodPost)
	return router
}
