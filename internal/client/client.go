package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/winter-report-service/internal/circuitbreaker"
	"github.com/kjstillabower/winter-report-service/internal/failure"
	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/observability"
)

// DefaultURL is the Open-Meteo forecast endpoint.
const DefaultURL = "https://api.open-meteo.com/v1/forecast"

// HourlyFields are the hourly variables requested from the provider.
var HourlyFields = []string{
	"temperature_2m",
	"apparent_temperature",
	"precipitation",
	"rain",
	"snowfall",
	"weather_code",
	"wind_speed_10m",
	"wind_direction_10m",
	"relative_humidity_2m",
	"cloud_cover",
}

// ForecastClient fetches the raw hourly forecast for a point.
type ForecastClient interface {
	FetchForecast(ctx context.Context, coords models.Coordinates) (models.Forecast, error)
}

// Provider-side causes. Every error returned by FetchForecast also wraps
// failure.ErrFetchUnavailable.
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrBadRequest      = errors.New("bad request")
	ErrParse           = errors.New("parse response")
)

// OpenMeteoClient calls the Open-Meteo forecast API. A single attempt is made
// per fetch; the breaker short-circuits calls while the provider is failing.
type OpenMeteoClient struct {
	apiURL  string
	model   string
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewOpenMeteoClient returns a client for apiURL (DefaultURL when empty).
// model selects the provider's weather model, e.g. "gem_seamless"; breaker may be nil.
func NewOpenMeteoClient(apiURL, model string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) (*OpenMeteoClient, error) {
	if apiURL == "" {
		apiURL = DefaultURL
	}
	u, err := url.Parse(apiURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid forecast API URL %q", apiURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenMeteoClient{
		apiURL:  apiURL,
		model:   model,
		timeout: timeout,
		breaker: breaker,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// FetchForecast implements ForecastClient.
func (c *OpenMeteoClient) FetchForecast(ctx context.Context, coords models.Coordinates) (models.Forecast, error) {
	var out models.Forecast
	call := func() error {
		f, err := c.callAPI(ctx, coords)
		if err != nil {
			return err
		}
		out = f
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		observability.ForecastAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return models.Forecast{}, fmt.Errorf("%w: %w", failure.ErrFetchUnavailable, err)
		}
		return models.Forecast{}, err
	}
	return out, nil
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, coords models.Coordinates) (models.Forecast, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, coords)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		return models.Forecast{}, fmt.Errorf("%w: build request: %w", failure.ErrFetchUnavailable, err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Forecast{}, fmt.Errorf("%w: request timeout: %w", failure.ErrFetchUnavailable, err)
		}
		return models.Forecast{}, fmt.Errorf("%w: http request failed: %w", failure.ErrFetchUnavailable, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := observability.StatusLabel(resp.StatusCode)
	observability.ForecastAPICallsTotal.WithLabelValues(status).Inc()
	observability.ForecastAPIDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return models.Forecast{}, fmt.Errorf("%w: %w", failure.ErrFetchUnavailable, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Forecast{}, fmt.Errorf("%w: read response body: %w", failure.ErrFetchUnavailable, err)
	}

	var forecast models.Forecast
	if err := json.Unmarshal(body, &forecast); err != nil {
		return models.Forecast{}, fmt.Errorf("%w: %w: %v", failure.ErrFetchUnavailable, ErrParse, err)
	}
	return forecast, nil
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, coords models.Coordinates) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	params.Set("hourly", strings.Join(HourlyFields, ","))
	if c.model != "" {
		params.Set("models", c.model)
	}
	params.Set("timezone", "auto")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest:
		// Open-Meteo explains rejected parameters in {"error":true,"reason":"..."}.
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
		if body.Reason != "" {
			return fmt.Errorf("%w: %s", ErrBadRequest, body.Reason)
		}
		return ErrBadRequest
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}
