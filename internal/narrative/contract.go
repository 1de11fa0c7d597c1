package narrative

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/kjstillabower/winter-report-service/internal/failure"
	"github.com/kjstillabower/winter-report-service/internal/models"
)

// Fallback copy used when the service omits a text section.
const (
	FallbackSummary  = "Check current conditions before heading out."
	FallbackClothing = "Dress appropriately for the temperature."
	FallbackSafety   = "Drive safely and check conditions before heading out."
)

const (
	maxWhatToExpect = 3
	maxWeeklyMoods  = 7
)

const systemInstruction = "You are a helpful Canadian winter weather assistant. Always return valid JSON only, no markdown."

const summaryShape = `{
  "dailySummary": "A friendly, human-written 2-3 sentence summary of today's weather conditions",
  "clothingAdvice": "Specific clothing recommendations based on temperature, wind, and precipitation",
  "safetyNotes": "Important safety considerations for today",
  "whatToExpect": ["Brief bullet point 1", "Brief bullet point 2", "Brief bullet point 3"],
  "riskScores": {"road": 0, "cold": 0, "slip": 0},
  "weeklyMoods": [{"day": "Day 1", "mood": "One word mood label like 'Crisp', 'Cozy', 'Challenging', 'Mild'"}]
}`

const summaryGuidance = `Tone: calm, practical, friendly, safety-first. Consider Canadian winter conditions.
Risk scores are integers 0 (low), 1 (medium) or 2 (high):
- road: precipitation, visibility, freezing temperatures
- cold: wind chill, temperature, exposure time
- slip: precipitation type, temperature, freeze-thaw
Provide one weeklyMoods entry per forecast day, up to 7.`

const detailedShape = `{
  "temperatureDetails": "Today's temperature range and current temperature",
  "weatherCondition": "Detailed weather description",
  "bestDriveTimes": "Specific times when driving conditions are best (e.g. '10 AM - 2 PM')",
  "avoidDriveTimes": "Specific times to avoid driving (e.g. '6 PM - 8 PM due to heavy snow')",
  "clothingAdvice": "Detailed clothing recommendations and warmth level needed",
  "snowStormInfo": "Snow storm timing and intensity, or omit when there is none",
  "windInfo": "Wind speed, direction, and impact on driving",
  "highwaySpeed": "Recommended highway speed (e.g. 'Reduce to 60-70 km/h')",
  "citySpeed": "Recommended city speed (e.g. '30-40 km/h')",
  "visibilityInfo": "Road visibility throughout the day with specific time ranges"
}`

// SystemInstruction returns the fixed system message for every request.
func (r Request) SystemInstruction() string {
	return systemInstruction
}

// Prompt renders the user prompt embedding the weather data as JSON.
func (r Request) Prompt() (string, error) {
	data, err := json.MarshalIndent(r.payload(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode weather data: %w", err)
	}

	var b strings.Builder
	switch r.Variant {
	case VariantDetailed:
		b.WriteString("Analyze this weather data and provide a comprehensive daily weather report for email delivery.\n\n")
		b.WriteString("Weather Data:\n")
		b.Write(data)
		b.WriteString("\n\nProvide a detailed JSON response with this structure:\n")
		b.WriteString(detailedShape)
		b.WriteString("\n\nBe specific with times and conditions. Return ONLY valid JSON, no markdown.")
	default:
		b.WriteString("You are a Canadian winter weather assistant. Analyze this weather data and provide a helpful, safety-focused summary.\n\n")
		b.WriteString("Weather Data:\n")
		b.Write(data)
		b.WriteString("\n\nProvide a JSON response with this exact structure:\n")
		b.WriteString(summaryShape)
		b.WriteString("\n\n")
		b.WriteString(summaryGuidance)
		b.WriteString("\n\nReturn ONLY valid JSON, no markdown formatting.")
	}
	return b.String(), nil
}

type promptPayload struct {
	Location models.Coordinates      `json:"location"`
	Current  models.CurrentSnapshot  `json:"current"`
	Daily    []models.DailyAggregate `json:"daily,omitempty"`
	Hourly   *models.HourlySeries    `json:"hourly,omitempty"`
}

func (r Request) payload() promptPayload {
	return promptPayload{
		Location: r.Location,
		Current:  r.Current,
		Daily:    r.Daily,
		Hourly:   r.Hourly,
	}
}

// ParseReport validates a raw service response and substitutes defaults for
// missing or mistyped fields. It fails with failure.ErrNarrativeParse when raw is
// not a JSON object, and with failure.ErrInvalidRiskScore when a numeric risk
// score is outside {0,1,2}.
//
// Summary responses get fallback copy for blank text sections. Detailed
// responses keep them empty so Merge can fall back to the summary.
func ParseReport(raw []byte, variant Variant) (models.NarrativeReport, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(stripCodeFence(raw), &fields); err != nil {
		return models.NarrativeReport{}, fmt.Errorf("%w: %v", failure.ErrNarrativeParse, err)
	}
	if fields == nil {
		return models.NarrativeReport{}, fmt.Errorf("%w: null document", failure.ErrNarrativeParse)
	}

	risks, err := parseRiskScores(fields["riskScores"])
	if err != nil {
		return models.NarrativeReport{}, err
	}

	out := models.NarrativeReport{
		DailySummary:   stringField(fields, "dailySummary"),
		ClothingAdvice: stringField(fields, "clothingAdvice"),
		SafetyNotes:    stringField(fields, "safetyNotes"),
		WhatToExpect:   parseWhatToExpect(fields["whatToExpect"]),
		RiskScores:     risks,
		WeeklyMoods:    parseWeeklyMoods(fields["weeklyMoods"]),

		TemperatureDetails: stringField(fields, "temperatureDetails"),
		WeatherCondition:   stringField(fields, "weatherCondition"),
		BestDriveTimes:     stringField(fields, "bestDriveTimes"),
		AvoidDriveTimes:    stringField(fields, "avoidDriveTimes"),
		SnowStormInfo:      stringField(fields, "snowStormInfo"),
		WindInfo:           stringField(fields, "windInfo"),
		HighwaySpeed:       stringField(fields, "highwaySpeed"),
		CitySpeed:          stringField(fields, "citySpeed"),
		VisibilityInfo:     stringField(fields, "visibilityInfo"),
	}
	if variant != VariantDetailed {
		out = WithFallbacks(out)
	}
	return out, nil
}

// WithFallbacks fills blank text sections with fallback copy.
func WithFallbacks(r models.NarrativeReport) models.NarrativeReport {
	if r.DailySummary == "" {
		r.DailySummary = FallbackSummary
	}
	if r.ClothingAdvice == "" {
		r.ClothingAdvice = FallbackClothing
	}
	if r.SafetyNotes == "" {
		r.SafetyNotes = FallbackSafety
	}
	if r.WhatToExpect == nil {
		r.WhatToExpect = []string{}
	}
	if r.WeeklyMoods == nil {
		r.WeeklyMoods = []models.WeeklyMood{}
	}
	return r
}

// stripCodeFence removes a ```json ... ``` wrapper around the whole body.
func stripCodeFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) || !bytes.HasSuffix(s, []byte("```")) || len(s) < 6 {
		return s
	}
	s = s[3 : len(s)-3]
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 && !bytes.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	return bytes.TrimSpace(s)
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func parseRiskScores(raw json.RawMessage) (models.RiskScores, error) {
	var obj map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return models.RiskScores{}, nil
	}
	road, err := riskScore(obj, "road")
	if err != nil {
		return models.RiskScores{}, err
	}
	cold, err := riskScore(obj, "cold")
	if err != nil {
		return models.RiskScores{}, err
	}
	slip, err := riskScore(obj, "slip")
	if err != nil {
		return models.RiskScores{}, err
	}
	return models.RiskScores{Road: road, Cold: cold, Slip: slip}, nil
}

// riskScore returns 0 for a missing or non-numeric score. Any JSON number
// other than exactly 0, 1 or 2 is an error rather than clamped, including
// values that overflow or underflow a float64.
func riskScore(obj map[string]json.RawMessage, key string) (int, error) {
	raw := bytes.TrimSpace(obj[key])
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, nil
	}
	num := string(raw)
	invalid := fmt.Errorf("%w: %s=%s", failure.ErrInvalidRiskScore, key, num)

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, invalid
	}
	if f == 0 {
		// ParseFloat rounds tiny values such as 1e-400 to zero.
		if !zeroMantissa(num) {
			return 0, invalid
		}
		return 0, nil
	}
	if f != 1 && f != 2 {
		return 0, invalid
	}
	// 1.0000000000000000001 also parses to 1.
	exact, ok := new(big.Rat).SetString(num)
	if !ok || exact.Cmp(big.NewRat(int64(f), 1)) != 0 {
		return 0, invalid
	}
	return int(f), nil
}

func zeroMantissa(num string) bool {
	if i := strings.IndexAny(num, "eE"); i >= 0 {
		num = num[:i]
	}
	return strings.Trim(num, "-0.") == ""
}

func parseWhatToExpect(raw json.RawMessage) []string {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return []string{}
	}
	out := make([]string, 0, maxWhatToExpect)
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) != nil {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxWhatToExpect {
			break
		}
	}
	return out
}

// parseWeeklyMoods requires every element to carry string day and mood values;
// any malformed element discards the whole list.
func parseWeeklyMoods(raw json.RawMessage) []models.WeeklyMood {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return []models.WeeklyMood{}
	}
	out := make([]models.WeeklyMood, 0, len(items))
	for _, item := range items {
		var obj map[string]json.RawMessage
		if json.Unmarshal(item, &obj) != nil || obj == nil {
			return []models.WeeklyMood{}
		}
		day, mood := stringField(obj, "day"), stringField(obj, "mood")
		if day == "" || mood == "" {
			return []models.WeeklyMood{}
		}
		out = append(out, models.WeeklyMood{Day: day, Mood: mood})
	}
	if len(out) > maxWeeklyMoods {
		out = out[:maxWeeklyMoods]
	}
	return out
}
