package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/winter-report-service/internal/failure"
	"github.com/kjstillabower/winter-report-service/internal/health"
	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/notify"
)

var toronto = models.Coordinates{Latitude: 43.6532, Longitude: -79.3832}

type fakeReports struct {
	mu sync.Mutex

	weather models.WeatherReport
	screen  models.ScreenReport
	result  models.DispatchResult
	err     error

	gotCoords   models.Coordinates
	gotForecast models.Forecast
	gotChannel  string
	gotTrigger  string
	sendCalls   int
	hadDeadline bool
}

func (f *fakeReports) DefaultLocation() models.Coordinates { return toronto }

func (f *fakeReports) Weather(ctx context.Context, coords models.Coordinates) (models.WeatherReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotCoords = coords
	_, f.hadDeadline = ctx.Deadline()
	return f.weather, f.err
}

func (f *fakeReports) ScreenReport(ctx context.Context, coords models.Coordinates) (models.ScreenReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotCoords = coords
	_, f.hadDeadline = ctx.Deadline()
	return f.screen, f.err
}

func (f *fakeReports) Summarize(ctx context.Context, coords models.Coordinates, fc models.Forecast) (models.ScreenReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotCoords = coords
	f.gotForecast = fc
	return f.screen, f.err
}

func (f *fakeReports) SendDaily(ctx context.Context, channel, triggerID string) (models.DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	f.gotChannel = channel
	f.gotTrigger = triggerID
	_, f.hadDeadline = ctx.Deadline()
	if f.err != nil {
		return models.DispatchResult{}, f.err
	}
	r := f.result
	r.Channel = channel
	r.TriggerID = triggerID
	return r, nil
}

func (f *fakeReports) NotificationHealth() notify.HealthStatus {
	return notify.HealthStatus{Status: "ok", Message: "Notification endpoint is working", Timestamp: "2026-01-02T12:00:00Z"}
}

func newTestHandler(reports ReportService) (*Handler, *health.Monitor) {
	monitor := health.NewMonitor(health.NewTracker(nil), health.Thresholds{}, zap.NewNop())
	return NewHandler(reports, monitor, nil, zap.NewNop()), monitor
}

func serve(t *testing.T, router http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no error object: %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

func TestHandler_GetWeather_DefaultLocation(t *testing.T) {
	reports := &fakeReports{weather: models.WeatherReport{Location: toronto, Timezone: "America/Toronto"}}
	h, monitor := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{RequestTimeout: time.Second}, zap.NewNop())

	w := serve(t, router, http.MethodGet, "/weather", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("GetWeather() status = %d, want %d", w.Code, http.StatusOK)
	}
	if reports.gotCoords != toronto {
		t.Errorf("coords = %+v, want default %+v", reports.gotCoords, toronto)
	}
	if !reports.hadDeadline {
		t.Error("GetWeather() context has no deadline, want request timeout applied")
	}
	var got models.WeatherReport
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Timezone != "America/Toronto" {
		t.Errorf("Timezone = %q, want America/Toronto", got.Timezone)
	}
	if _, total := monitor.Tracker().ErrorRate(time.Minute); total != 1 {
		t.Errorf("tracked outcomes = %d, want 1", total)
	}
}

func TestHandler_GetWeather_ExplicitCoordinates(t *testing.T) {
	reports := &fakeReports{}
	h, _ := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{}, zap.NewNop())

	w := serve(t, router, http.MethodGet, "/weather?lat=45.4215&lon=-75.6972", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	want := models.Coordinates{Latitude: 45.4215, Longitude: -75.6972}
	if reports.gotCoords != want {
		t.Errorf("coords = %+v, want %+v", reports.gotCoords, want)
	}
}

func TestHandler_GetWeather_InvalidCoordinates(t *testing.T) {
	for _, target := range []string{"/weather?lat=43.6", "/weather?lat=abc&lon=1", "/weather?lat=91&lon=0"} {
		h, _ := newTestHandler(&fakeReports{})
		router := NewRouter(h, RouterConfig{}, zap.NewNop())

		w := serve(t, router, http.MethodGet, target, "", nil)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", target, w.Code)
			continue
		}
		if code := errorCode(t, decodeBody(t, w)); code != "INVALID_COORDINATES" {
			t.Errorf("%s code = %q, want INVALID_COORDINATES", target, code)
		}
	}
}

func TestHandler_PipelineErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		kind failure.Kind
	}{
		{"fetch unavailable", fmt.Errorf("%w: HTTP 503", failure.ErrFetchUnavailable), http.StatusServiceUnavailable, failure.KindFetchUnavailable},
		{"narrative unavailable", fmt.Errorf("%w: HTTP 500", failure.ErrNarrativeUnavailable), http.StatusServiceUnavailable, failure.KindNarrativeUnavailable},
		{"misaligned", fmt.Errorf("%w: rain has 3 values", failure.ErrMisalignedArrays), http.StatusUnprocessableEntity, failure.KindMisalignedArrays},
		{"empty", failure.ErrEmptySeries, http.StatusUnprocessableEntity, failure.KindEmptySeries},
		{"bad timestamp", fmt.Errorf("%w: \"yesterday\"", failure.ErrInvalidTimestamp), http.StatusUnprocessableEntity, failure.KindInvalidTimestamp},
		{"parse", fmt.Errorf("%w: unexpected token", failure.ErrNarrativeParse), http.StatusBadGateway, failure.KindNarrativeParseError},
		{"risk", fmt.Errorf("%w: road=3", failure.ErrInvalidRiskScore), http.StatusBadGateway, failure.KindInvalidRiskScore},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, failure.KindTimeout},
		{"unknown", errors.New("secret internal detail"), http.StatusInternalServerError, failure.KindUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, monitor := newTestHandler(&fakeReports{err: tc.err})
			router := NewRouter(h, RouterConfig{}, zap.NewNop())

			w := serve(t, router, http.MethodGet, "/weather", "", map[string]string{"X-Correlation-ID": "corr-1"})

			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
			raw := w.Body.String()
			if strings.Contains(raw, tc.err.Error()) {
				t.Errorf("response leaks raw error text: %s", raw)
			}
			var body struct {
				Error struct {
					Code      string `json:"code"`
					Message   string `json:"message"`
					RequestID string `json:"requestId"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(raw), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != string(tc.kind) {
				t.Errorf("code = %q, want %q", body.Error.Code, tc.kind)
			}
			if body.Error.Message != failure.Message(tc.kind) {
				t.Errorf("message = %q, want %q", body.Error.Message, failure.Message(tc.kind))
			}
			if body.Error.RequestID != "corr-1" {
				t.Errorf("requestId = %q, want corr-1", body.Error.RequestID)
			}
			if errs, _ := monitor.Tracker().ErrorRate(time.Minute); errs != 1 {
				t.Errorf("tracked errors = %d, want 1", errs)
			}
		})
	}
}

func TestHandler_GetReport(t *testing.T) {
	reports := &fakeReports{screen: models.ScreenReport{DailySummary: "Squalls by noon.", WarmthLevel: "Moderate"}}
	h, _ := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{RequestTimeout: time.Second}, zap.NewNop())

	w := serve(t, router, http.MethodGet, "/report?lat=45.4215&lon=-75.6972", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if want := (models.Coordinates{Latitude: 45.4215, Longitude: -75.6972}); reports.gotCoords != want {
		t.Errorf("coords = %+v, want %+v", reports.gotCoords, want)
	}
	if !reports.hadDeadline {
		t.Error("GET /report should run under the request timeout")
	}
	body := decodeBody(t, w)
	if body["dailySummary"] != "Squalls by noon." || body["warmthLevel"] != "Moderate" {
		t.Errorf("body = %v", body)
	}
}

func TestHandler_GetReport_Errors(t *testing.T) {
	h, _ := newTestHandler(&fakeReports{})
	router := NewRouter(h, RouterConfig{}, zap.NewNop())
	w := serve(t, router, http.MethodGet, "/report?lat=91&lon=0", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := errorCode(t, decodeBody(t, w)); code != "INVALID_COORDINATES" {
		t.Errorf("code = %q, want INVALID_COORDINATES", code)
	}

	h, _ = newTestHandler(&fakeReports{err: fmt.Errorf("%w: HTTP 503", failure.ErrFetchUnavailable)})
	router = NewRouter(h, RouterConfig{}, zap.NewNop())
	w = serve(t, router, http.MethodGet, "/report", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

const forecastBody = `{
  "latitude": 51.05, "longitude": -114.07, "timezone": "America/Edmonton", "utc_offset_seconds": -25200,
  "hourly": {"time": ["2026-01-02T00:00"], "temperature_2m": [-12], "apparent_temperature": [-18],
    "precipitation": [0], "rain": [0], "snowfall": [0], "weather_code": [3],
    "wind_speed_10m": [18], "wind_direction_10m": [270], "relative_humidity_2m": [80], "cloud_cover": [90]}
}`

func TestHandler_PostSummarize(t *testing.T) {
	reports := &fakeReports{screen: models.ScreenReport{DailySummary: "Cold and grey.", WarmthLevel: "Very Warm"}}
	h, _ := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{}, zap.NewNop())

	w := serve(t, router, http.MethodPost, "/summarize", forecastBody, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if want := (models.Coordinates{Latitude: 51.05, Longitude: -114.07}); reports.gotCoords != want {
		t.Errorf("coords = %+v, want forecast coordinates %+v", reports.gotCoords, want)
	}
	if reports.gotForecast.Timezone != "America/Edmonton" || reports.gotForecast.Hourly.Len() != 1 {
		t.Errorf("forecast not passed through: %+v", reports.gotForecast)
	}
	body := decodeBody(t, w)
	if body["dailySummary"] != "Cold and grey." || body["warmthLevel"] != "Very Warm" {
		t.Errorf("body = %v", body)
	}
}

func TestHandler_PostSummarize_QueryOverridesCoordinates(t *testing.T) {
	reports := &fakeReports{}
	h, _ := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{}, zap.NewNop())

	w := serve(t, router, http.MethodPost, "/summarize?lat=53.5461&lon=-113.4938", forecastBody, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if want := (models.Coordinates{Latitude: 53.5461, Longitude: -113.4938}); reports.gotCoords != want {
		t.Errorf("coords = %+v, want %+v", reports.gotCoords, want)
	}
}

func TestHandler_PostSummarize_InvalidBody(t *testing.T) {
	h, _ := newTestHandler(&fakeReports{})
	router := NewRouter(h, RouterConfig{}, zap.NewNop())

	w := serve(t, router, http.MethodPost, "/summarize", "{not json", nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := errorCode(t, decodeBody(t, w)); code != "INVALID_BODY" {
		t.Errorf("code = %q, want INVALID_BODY", code)
	}
}

func TestHandler_NotifyDaily_HealthCheck(t *testing.T) {
	reports := &fakeReports{}
	h, _ := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{}, zap.NewNop())

	w := serve(t, router, http.MethodGet, "/notify/daily?health=check", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" || body["message"] != "Notification endpoint is working" {
		t.Errorf("body = %v", body)
	}
	if reports.sendCalls != 0 {
		t.Errorf("SendDaily calls = %d, want 0", reports.sendCalls)
	}
}

func TestHandler_NotifyDaily_Success(t *testing.T) {
	reports := &fakeReports{result: models.DispatchResult{Recipient: "driver@example.com"}}
	h, _ := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{RequestTimeout: time.Second}, zap.NewNop())

	w := serve(t, router, http.MethodPost, "/notify/daily", "", map[string]string{"Idempotency-Key": " daily:2026-01-02 "})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body notifyResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.SentTo != "driver@example.com" || body.Duplicate {
		t.Errorf("body = %+v", body)
	}
	if body.Message != "Daily weather report sent successfully" {
		t.Errorf("message = %q", body.Message)
	}
	if reports.gotTrigger != "daily:2026-01-02" || body.TriggerID != "daily:2026-01-02" {
		t.Errorf("trigger = %q / %q, want daily:2026-01-02", reports.gotTrigger, body.TriggerID)
	}
	if reports.gotChannel != notify.ChannelEmail {
		t.Errorf("channel = %q, want email", reports.gotChannel)
	}
	if reports.hadDeadline {
		t.Error("notify context has a request deadline, want none")
	}
}

func TestHandler_NotifyDaily_GeneratesTriggerAndHonorsChannel(t *testing.T) {
	reports := &fakeReports{}
	h, _ := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{}, zap.NewNop())

	w := serve(t, router, http.MethodGet, "/notify/daily?channel=Card", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if _, err := uuid.Parse(reports.gotTrigger); err != nil {
		t.Errorf("trigger %q is not a UUID: %v", reports.gotTrigger, err)
	}
	if reports.gotChannel != notify.ChannelCard {
		t.Errorf("channel = %q, want card", reports.gotChannel)
	}
}

func TestHandler_NotifyDaily_Duplicate(t *testing.T) {
	reports := &fakeReports{result: models.DispatchResult{Recipient: "driver@example.com", Duplicate: true}}
	h, _ := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{}, zap.NewNop())

	w := serve(t, router, http.MethodPost, "/notify/daily", "", map[string]string{"Idempotency-Key": "k1"})

	var body notifyResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || !body.Success || !body.Duplicate {
		t.Errorf("status = %d body = %+v, want 200 duplicate", w.Code, body)
	}
}

func TestHandler_NotifyDaily_InvalidIdempotencyKey(t *testing.T) {
	reports := &fakeReports{}
	h, _ := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{}, zap.NewNop())

	w := serve(t, router, http.MethodPost, "/notify/daily", "", map[string]string{"Idempotency-Key": "has spaces in it"})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if reports.sendCalls != 0 {
		t.Errorf("SendDaily calls = %d, want 0", reports.sendCalls)
	}
}

func TestHandler_NotifyDaily_Failure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	logger := zap.New(core)
	reports := &fakeReports{err: fmt.Errorf("%w: smtp 550 mailbox unavailable", failure.ErrDispatchFailure)}
	h, _ := newTestHandler(reports)
	router := NewRouter(h, RouterConfig{}, logger)

	w := serve(t, router, http.MethodPost, "/notify/daily", "", nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body notifyErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Failed to send notification" {
		t.Errorf("error = %q", body.Error)
	}
	if body.Kind != failure.KindDispatchFailure {
		t.Errorf("kind = %q, want DispatchFailure", body.Kind)
	}
	if body.Details != failure.Message(failure.KindDispatchFailure) {
		t.Errorf("details = %q", body.Details)
	}
	if strings.Contains(body.Details, "550") {
		t.Error("details leak raw upstream error")
	}
	if logs.FilterMessage("daily notification failed").Len() != 1 {
		t.Error("expected one error log for failed notification")
	}
}

func TestHandler_GetHealth(t *testing.T) {
	tests := []struct {
		name      string
		shutdown  bool
		cachePing func() error
		want      int
		status    string
		cache     string
	}{
		{"healthy without cache check", false, nil, http.StatusOK, health.StatusHealthy, ""},
		{"healthy with cache", false, func() error { return nil }, http.StatusOK, health.StatusHealthy, "healthy"},
		{"cache down", false, func() error { return errors.New("dial tcp: refused") }, http.StatusOK, health.StatusHealthy, "unhealthy"},
		{"shutting down", true, nil, http.StatusServiceUnavailable, health.StatusShuttingDown, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			monitor := health.NewMonitor(health.NewTracker(nil), health.Thresholds{}, nil)
			monitor.SetShuttingDown(tc.shutdown)
			h := NewHandler(&fakeReports{}, monitor, tc.cachePing, zap.NewNop())
			router := NewRouter(h, RouterConfig{}, zap.NewNop())

			w := serve(t, router, http.MethodGet, "/health", "", nil)

			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
			var body struct {
				Status  string            `json:"status"`
				Service string            `json:"service"`
				Checks  map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.status {
				t.Errorf("status field = %q, want %q", body.Status, tc.status)
			}
			if body.Service != "winter-report-service" {
				t.Errorf("service = %q", body.Service)
			}
			if body.Checks["cache"] != tc.cache {
				t.Errorf("cache check = %q, want %q", body.Checks["cache"], tc.cache)
			}
		})
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(&fakeReports{})
	router := NewRouter(h, RouterConfig{}, zap.NewNop())

	w := serve(t, router, http.MethodDelete, "/weather", "", nil)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	h, monitor := newTestHandler(&fakeReports{})
	router := NewRouter(h, RouterConfig{Limiter: rate.NewLimiter(rate.Limit(0), 1)}, zap.NewNop())

	first := serve(t, router, http.MethodGet, "/weather", "", nil)
	second := serve(t, router, http.MethodGet, "/weather", "", nil)
	healthResp := serve(t, router, http.MethodGet, "/health", "", nil)

	if first.Code != http.StatusOK {
		t.Errorf("first status = %d, want 200", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	if code := errorCode(t, decodeBody(t, second)); code != "RATE_LIMITED" {
		t.Errorf("code = %q, want RATE_LIMITED", code)
	}
	if healthResp.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200 (not rate limited)", healthResp.Code)
	}
	if n := monitor.Tracker().DenialCount(time.Minute); n != 1 {
		t.Errorf("DenialCount() = %d, want 1", n)
	}
}
