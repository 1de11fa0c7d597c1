package narrative

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kjstillabower/winter-report-service/internal/failure"
	"github.com/kjstillabower/winter-report-service/internal/models"
)

// DefaultSummaryJSON is the canned summary used by StaticProvider.
const DefaultSummaryJSON = `{
  "dailySummary": "Cold and snowy with steady flurries through the afternoon.",
  "clothingAdvice": "Wear a warm insulated coat, toque and waterproof boots.",
  "safetyNotes": "Roads may be slick; leave extra following distance.",
  "whatToExpect": ["Light snow in the morning", "Gusty winds after noon", "Clearing overnight"],
  "riskScores": {"road": 1, "cold": 1, "slip": 2},
  "weeklyMoods": [
    {"day": "Day 1", "mood": "Crisp"},
    {"day": "Day 2", "mood": "Snowy"},
    {"day": "Day 3", "mood": "Cozy"},
    {"day": "Day 4", "mood": "Mild"},
    {"day": "Day 5", "mood": "Bright"},
    {"day": "Day 6", "mood": "Blustery"},
    {"day": "Day 7", "mood": "Calm"}
  ]
}`

// DefaultDetailedJSON is the canned detailed narrative used by StaticProvider.
const DefaultDetailedJSON = `{
  "temperatureDetails": "Highs near -3°C, lows around -11°C.",
  "weatherCondition": "Periods of light snow",
  "bestDriveTimes": "10 AM - 2 PM",
  "avoidDriveTimes": "4 PM - 7 PM during heavier snow",
  "windInfo": "Northwest winds 20-30 km/h, gusting to 45 km/h",
  "highwaySpeed": "Reduce to 80 km/h",
  "citySpeed": "30-40 km/h on side streets",
  "visibilityInfo": "Reduced to 1-2 km in snow between 4 PM and 7 PM"
}`

// StaticProvider returns fixed responses passed through the same validation as
// live responses. It is deterministic and performs no I/O.
type StaticProvider struct {
	Summary  []byte
	Detailed []byte
	// Err, when set, is returned instead of a report.
	Err error

	calls atomic.Int64
}

// NewStaticProvider returns a provider serving the default canned narratives.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		Summary:  []byte(DefaultSummaryJSON),
		Detailed: []byte(DefaultDetailedJSON),
	}
}

// Generate implements Provider.
func (p *StaticProvider) Generate(ctx context.Context, req Request) (models.NarrativeReport, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return models.NarrativeReport{}, fmt.Errorf("%w: %w", failure.ErrNarrativeUnavailable, err)
	}
	if p.Err != nil {
		return models.NarrativeReport{}, p.Err
	}
	raw := p.Summary
	if req.Variant == VariantDetailed {
		raw = p.Detailed
	}
	return ParseReport(raw, req.Variant)
}

// Calls returns how many times Generate has been invoked.
func (p *StaticProvider) Calls() int64 {
	return p.calls.Load()
}
