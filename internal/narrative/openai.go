package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/winter-report-service/internal/failure"
	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/observability"
)

const breakerComponent = "narrative_api"

// maxResponseBytes bounds how much of a completion body is read.
const maxResponseBytes = 1 << 20

// OpenAIConfig configures the chat-completions provider.
type OpenAIConfig struct {
	APIKey      string
	URL         string
	Model       string
	Temperature float64
	Timeout     time.Duration

	// Breaker settings; zero values use gobreaker-friendly defaults.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// OpenAIProvider calls an OpenAI-compatible chat-completions endpoint and
// validates the returned JSON through ParseReport.
type OpenAIProvider struct {
	cfg     OpenAIConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewOpenAIProvider fails fast with failure.ErrNarrativeUnavailable when no API key is configured.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", failure.ErrNarrativeUnavailable)
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerComponent,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
		},
	})

	return &OpenAIProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends one completion request. There is no retry: a timeout or
// non-2xx status is reported as failure.ErrNarrativeUnavailable.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (models.NarrativeReport, error) {
	prompt, err := req.Prompt()
	if err != nil {
		return models.NarrativeReport{}, fmt.Errorf("build prompt: %w", err)
	}
	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemInstruction()},
			{Role: "user", Content: prompt},
		},
		Temperature:    p.cfg.Temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return models.NarrativeReport{}, fmt.Errorf("encode request: %w", err)
	}

	variant := string(req.Variant)
	start := time.Now()
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.call(ctx, body, variant)
	})
	observability.NarrativeDuration.WithLabelValues(variant).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.NarrativeCallsTotal.WithLabelValues(variant, "circuit_open").Inc()
			return models.NarrativeReport{}, fmt.Errorf("%w: circuit breaker open", failure.ErrNarrativeUnavailable)
		}
		return models.NarrativeReport{}, err
	}

	raw, _ := result.([]byte)
	var completion chatResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		observability.NarrativeCallsTotal.WithLabelValues(variant, "parse_error").Inc()
		return models.NarrativeReport{}, fmt.Errorf("%w: completion envelope: %v", failure.ErrNarrativeParse, err)
	}
	if len(completion.Choices) == 0 {
		observability.NarrativeCallsTotal.WithLabelValues(variant, "parse_error").Inc()
		return models.NarrativeReport{}, fmt.Errorf("%w: no choices in completion", failure.ErrNarrativeParse)
	}

	report, err := ParseReport([]byte(completion.Choices[0].Message.Content), req.Variant)
	if err != nil {
		observability.NarrativeCallsTotal.WithLabelValues(variant, "invalid").Inc()
		return models.NarrativeReport{}, err
	}
	observability.NarrativeCallsTotal.WithLabelValues(variant, "success").Inc()
	return report, nil
}

// call performs the HTTP round trip and returns the raw body. Only transport
// and status failures are returned as errors so they alone count toward the breaker.
func (p *OpenAIProvider) call(ctx context.Context, body []byte, variant string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", failure.ErrNarrativeUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if corrID := correlationID(ctx); corrID != "" {
		httpReq.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		observability.NarrativeCallsTotal.WithLabelValues(variant, "error").Inc()
		return nil, fmt.Errorf("%w: %w", failure.ErrNarrativeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.NarrativeCallsTotal.WithLabelValues(variant, observability.StatusLabel(resp.StatusCode)).Inc()
		return nil, fmt.Errorf("%w: HTTP %d", failure.ErrNarrativeUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		observability.NarrativeCallsTotal.WithLabelValues(variant, "error").Inc()
		return nil, fmt.Errorf("%w: read body: %w", failure.ErrNarrativeUnavailable, err)
	}
	return raw, nil
}

func correlationID(ctx context.Context) string {
	if v, ok := ctx.Value("correlation_id").(string); ok {
		return v
	}
	return ""
}
