// Package report merges normalized weather data with narrative fields into the
// final report shown on screen and sent in notifications.
package report

import (
	"strings"
	"time"

	"github.com/kjstillabower/winter-report-service/internal/models"
	"github.com/kjstillabower/winter-report-service/internal/narrative"
)

// Warmth levels derived from clothing advice.
const (
	WarmthVeryWarm = "Very Warm"
	WarmthModerate = "Moderate"
	WarmthLight    = "Light"
)

// Risk labels.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Compose builds the final report. It is pure: it does not fail, performs no
// I/O and returns identical output for identical input. Blank narrative text
// sections get the same fallback copy the narrative contract uses.
func Compose(snapshot models.CurrentSnapshot, daily []models.DailyAggregate, n models.NarrativeReport) models.ComposedReport {
	n = narrative.WithFallbacks(n)
	n.WhatToExpect = append([]string{}, n.WhatToExpect...)
	n.WeeklyMoods = append([]models.WeeklyMood{}, n.WeeklyMoods...)

	days := append([]models.DailyAggregate{}, daily...)

	return models.ComposedReport{
		Current:   snapshot,
		Daily:     days,
		Narrative: n,
		RiskLabels: models.RiskLabels{
			Road: RiskLabel(n.RiskScores.Road),
			Cold: RiskLabel(n.RiskScores.Cold),
			Slip: RiskLabel(n.RiskScores.Slip),
		},
		WarmthLevel: WarmthLevel(n.ClothingAdvice),
		Week:        weekOutlook(days, n.WeeklyMoods),
	}
}

// RiskLabel maps a risk score to its label. Scores are validated upstream;
// anything other than 0 or 1 reads as High.
func RiskLabel(score int) string {
	switch score {
	case 0:
		return RiskLow
	case 1:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// WarmthLevel is a keyword heuristic over clothing advice. Matching is
// case-sensitive and "warm" wins over "layers".
func WarmthLevel(clothing string) string {
	switch {
	case strings.Contains(clothing, "warm"):
		return WarmthVeryWarm
	case strings.Contains(clothing, "layers"):
		return WarmthModerate
	default:
		return WarmthLight
	}
}

// weekOutlook pairs the i-th mood with the i-th day.
func weekOutlook(days []models.DailyAggregate, moods []models.WeeklyMood) []models.DayOutlook {
	out := make([]models.DayOutlook, 0, len(days))
	for i, d := range days {
		o := models.DayOutlook{
			Date:      d.Date,
			Label:     DayLabel(d.Date),
			Condition: d.RepresentativeCondition,
			Min:       d.MinTemperature,
			Max:       d.MaxTemperature,
		}
		if i < len(moods) {
			o.Mood = moods[i].Mood
		}
		out = append(out, o)
	}
	return out
}

// DayLabel formats a YYYY-MM-DD key as "Mon 2". Unparseable keys are returned as is.
func DayLabel(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Mon 2")
}
