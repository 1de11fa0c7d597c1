package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kjstillabower/winter-report-service/internal/models"
)

// Card is the in-app notification payload.
type Card struct {
	Title        string            `json:"title"`
	Date         string            `json:"date"`
	Temperature  int               `json:"temperature"`
	FeelsLike    int               `json:"feelsLike"`
	Condition    string            `json:"condition"`
	Summary      string            `json:"summary"`
	WhatToExpect []string          `json:"whatToExpect"`
	RiskLabels   models.RiskLabels `json:"riskLabels"`
	WarmthLevel  string            `json:"warmthLevel"`
	SafetyNotes  string            `json:"safetyNotes"`
}

// BuildCard renders the report as a card dated now.
func BuildCard(r models.ComposedReport, now time.Time) Card {
	return Card{
		Title:        "Today's Winter Report",
		Date:         now.Format("2006-01-02"),
		Temperature:  round(r.Current.Temperature),
		FeelsLike:    round(r.Current.ApparentTemperature),
		Condition:    string(r.Current.Condition),
		Summary:      r.Narrative.DailySummary,
		WhatToExpect: r.Narrative.WhatToExpect,
		RiskLabels:   r.RiskLabels,
		WarmthLevel:  r.WarmthLevel,
		SafetyNotes:  r.Narrative.SafetyNotes,
	}
}

// CardChannel POSTs a JSON card to an in-app webhook.
type CardChannel struct {
	url    string
	client *http.Client
	loc    *time.Location
}

// NewCardChannel returns a card channel posting to url.
func NewCardChannel(url string, timeout time.Duration, loc *time.Location) *CardChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CardChannel{url: url, client: &http.Client{Timeout: timeout}, loc: loc}
}

func (c *CardChannel) Name() string      { return ChannelCard }
func (c *CardChannel) Recipient() string { return c.url }

// Send posts the card once. Any non-2xx status is an error.
func (c *CardChannel) Send(ctx context.Context, report models.ComposedReport, now time.Time) error {
	body, err := json.Marshal(BuildCard(report, now.In(c.loc)))
	if err != nil {
		return fmt.Errorf("encode card: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if corrID, ok := ctx.Value("correlation_id").(string); ok && corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post card: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("card webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
