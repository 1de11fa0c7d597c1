package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/winter-report-service/internal/failure"
	"github.com/kjstillabower/winter-report-service/internal/health"
	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/notify"
	"github.com/kjstillabower/winter-report-service/internal/observability"
	"github.com/kjstillabower/winter-report-service/internal/service"
	"github.com/kjstillabower/winter-report-service/internal/validation"
)

// maxForecastBody bounds the raw forecast accepted by POST /summarize.
const maxForecastBody = 4 << 20

// ReportService is the pipeline surface the handlers depend on.
type ReportService interface {
	DefaultLocation() models.Coordinates
	Weather(ctx context.Context, coords models.Coordinates) (models.WeatherReport, error)
	ScreenReport(ctx context.Context, coords models.Coordinates) (models.ScreenReport, error)
	Summarize(ctx context.Context, coords models.Coordinates, f models.Forecast) (models.ScreenReport, error)
	SendDaily(ctx context.Context, channel, triggerID string) (models.DispatchResult, error)
	NotificationHealth() notify.HealthStatus
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	reports   ReportService
	monitor   *health.Monitor
	cachePing func() error
	logger    *zap.Logger
}

// NewHandler returns a new Handler. cachePing may be nil when the cache is in-process;
// a nil monitor gets one with no thresholds.
func NewHandler(reports ReportService, monitor *health.Monitor, cachePing func() error, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if monitor == nil {
		monitor = health.NewMonitor(health.NewTracker(nil), health.Thresholds{}, logger)
	}
	return &Handler{
		reports:   reports,
		monitor:   monitor,
		cachePing: cachePing,
		logger:    logger,
	}
}

// GetWeather handles GET /weather?lat=&lon=. Missing coordinates use the default location.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	coords, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"), h.reports.DefaultLocation())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}

	result, err := h.reports.Weather(r.Context(), coords)
	if err != nil {
		h.monitor.Tracker().RecordError()
		writePipelineError(w, r, err)
		return
	}
	h.monitor.Tracker().RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// GetReport handles GET /report?lat=&lon=. It fetches the forecast server-side
// and returns the same on-screen report as POST /summarize.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	coords, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"), h.reports.DefaultLocation())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}

	result, err := h.reports.ScreenReport(r.Context(), coords)
	if err != nil {
		h.monitor.Tracker().RecordError()
		writePipelineError(w, r, err)
		return
	}
	h.monitor.Tracker().RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// PostSummarize handles POST /summarize. The body is a raw forecast document;
// lat/lon query values override the coordinates it carries.
func (h *Handler) PostSummarize(w http.ResponseWriter, r *http.Request) {
	var f models.Forecast
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxForecastBody))
	if err := dec.Decode(&f); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a forecast JSON document")
		return
	}

	def := h.reports.DefaultLocation()
	if f.Latitude != 0 || f.Longitude != 0 {
		def = models.Coordinates{Latitude: f.Latitude, Longitude: f.Longitude}
	}
	q := r.URL.Query()
	coords, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"), def)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}

	result, err := h.reports.Summarize(r.Context(), coords, f)
	if err != nil {
		h.monitor.Tracker().RecordError()
		writePipelineError(w, r, err)
		return
	}
	h.monitor.Tracker().RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

type notifyResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SentTo    string `json:"sentTo"`
	Duplicate bool   `json:"duplicate"`
	TriggerID string `json:"triggerId"`
}

type notifyErrorResponse struct {
	Error   string       `json:"error"`
	Kind    failure.Kind `json:"kind"`
	Details string       `json:"details"`
}

// NotifyDaily handles GET|POST /notify/daily. ?health=check returns the static
// liveness payload without external calls. The Idempotency-Key header, when
// present, is the trigger id; otherwise each call gets a fresh one.
func (h *Handler) NotifyDaily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("health") == "check" {
		writeJSON(w, http.StatusOK, h.reports.NotificationHealth())
		return
	}

	triggerID := uuid.NewString()
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		id, err := validation.ValidateTriggerID(key)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", err.Error())
			return
		}
		triggerID = id
	}

	result, err := h.reports.SendDaily(r.Context(), service.ChannelFromQuery(q.Get("channel")), triggerID)
	if err != nil {
		h.monitor.Tracker().RecordError()
		kind := failure.KindOf(err)
		loggerFrom(r).Error("daily notification failed",
			zap.String("trigger_id", triggerID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, notifyErrorResponse{
			Error:   "Failed to send notification",
			Kind:    kind,
			Details: failure.Message(kind),
		})
		return
	}
	h.monitor.Tracker().RecordSuccess()

	msg := "Daily weather report sent successfully"
	if result.Duplicate {
		msg = "Daily weather report already sent for this trigger"
	}
	writeJSON(w, http.StatusOK, notifyResponse{
		Success:   true,
		Message:   msg,
		SentTo:    result.Recipient,
		Duplicate: result.Duplicate,
		TriggerID: result.TriggerID,
	})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.monitor.Evaluate()

	checks := map[string]string{"pipeline": "healthy"}
	if result.Status == health.StatusDegraded {
		checks["pipeline"] = "unhealthy"
	}
	if h.cachePing != nil {
		if err := h.cachePing(); err != nil {
			checks["cache"] = "unhealthy"
			loggerFrom(r).Debug("cache ping failed", zap.Error(err))
		} else {
			checks["cache"] = "healthy"
		}
	}
	writeJSON(w, result.StatusCode, map[string]interface{}{
		"status":    result.Status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with code, message and the
// request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r),
		},
	})
}

// writePipelineError maps a pipeline failure to a status code. The body carries
// the failure kind and a generic message; the raw error only goes to the log.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := failure.KindOf(err)
	writeError(w, r, pipelineStatus(kind, err), string(kind), failure.Message(kind))
	loggerFrom(r).Debug("pipeline error", zap.String("kind", string(kind)), zap.Error(err))
}

func pipelineStatus(kind failure.Kind, err error) int {
	if failure.IsDataIntegrity(err) {
		return http.StatusUnprocessableEntity
	}
	switch kind {
	case failure.KindNarrativeParseError, failure.KindInvalidRiskScore:
		return http.StatusBadGateway
	case failure.KindNarrativeUnavailable, failure.KindFetchUnavailable:
		return http.StatusServiceUnavailable
	case failure.KindTimeout:
		if errors.Is(err, context.Canceled) {
			return http.StatusServiceUnavailable
		}
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func correlationID(r *http.Request) string {
	if v, ok := r.Context().Value("correlation_id").(string); ok {
		return v
	}
	return ""
}

func loggerFrom(r *http.Request) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.NewNop()
}
