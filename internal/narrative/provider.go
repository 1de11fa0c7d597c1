package narrative

import (
	"context"

	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/weather"
)

// Provider generates a validated narrative for a request. Implementations return
// errors wrapping failure.ErrNarrativeUnavailable, failure.ErrNarrativeParse or
// failure.ErrInvalidRiskScore.
type Provider interface {
	Generate(ctx context.Context, req Request) (models.NarrativeReport, error)
}

// Variant selects which narrative shape is requested.
type Variant string

const (
	// VariantSummary is the on-screen summary with risk scores and weekly moods.
	VariantSummary Variant = "summary"
	// VariantDetailed adds driving windows, speeds and visibility for the email.
	VariantDetailed Variant = "detailed"
)

// Request is the input sent to the summarization service.
type Request struct {
	Variant  Variant
	Location models.Coordinates
	Current  models.CurrentSnapshot
	Daily    []models.DailyAggregate
	Hourly   *models.HourlySeries
}

// NewSummaryRequest embeds the normalized snapshot and daily aggregates.
func NewSummaryRequest(loc models.Coordinates, n weather.Normalized) Request {
	return Request{
		Variant:  VariantSummary,
		Location: loc,
		Current:  n.Snapshot,
		Daily:    n.Daily,
	}
}

// NewDetailedRequest embeds the snapshot and the raw hourly series so the
// service can reason about specific time windows.
func NewDetailedRequest(loc models.Coordinates, n weather.Normalized, hourly models.HourlySeries) Request {
	return Request{
		Variant:  VariantDetailed,
		Location: loc,
		Current:  n.Snapshot,
		Hourly:   &hourly,
	}
}

// Merge combines the summary and detailed narratives for the email report.
// Core fields and risk scores come from summary; clothing advice prefers the
// detailed text when present.
func Merge(summary, detailed models.NarrativeReport) models.NarrativeReport {
	out := summary
	if detailed.ClothingAdvice != "" {
		out.ClothingAdvice = detailed.ClothingAdvice
	}
	out.TemperatureDetails = detailed.TemperatureDetails
	out.WeatherCondition = detailed.WeatherCondition
	out.BestDriveTimes = detailed.BestDriveTimes
	out.AvoidDriveTimes = detailed.AvoidDriveTimes
	out.SnowStormInfo = detailed.SnowStormInfo
	out.WindInfo = detailed.WindInfo
	out.HighwaySpeed = detailed.HighwaySpeed
	out.CitySpeed = detailed.CitySpeed
	out.VisibilityInfo = detailed.VisibilityInfo
	return out
}
