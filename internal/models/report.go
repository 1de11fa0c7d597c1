package models

// RiskLabels are the textual forms of RiskScores (Low, Medium, High).
type RiskLabels struct {
	Road string `json:"road"`
	Cold string `json:"cold"`
	Slip string `json:"slip"`
}

// DayOutlook pairs a daily aggregate with the narrative mood for that day.
type DayOutlook struct {
	Date      string    `json:"date"`
	Label     string    `json:"label"` // e.g. "Mon 2"
	Mood      string    `json:"mood,omitempty"`
	Condition Condition `json:"condition"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
}

// ComposedReport is the final merged report used for display and notifications.
type ComposedReport struct {
	Current     CurrentSnapshot  `json:"current"`
	Daily       []DailyAggregate `json:"daily"`
	Narrative   NarrativeReport  `json:"narrative"`
	RiskLabels  RiskLabels       `json:"riskLabels"`
	WarmthLevel string           `json:"warmthLevel"`
	Week        []DayOutlook     `json:"week"`
}

// ScreenReport is the subset of ComposedReport shown by the on-screen client.
type ScreenReport struct {
	Current      CurrentSnapshot  `json:"current"`
	Daily        []DailyAggregate `json:"daily"`
	DailySummary string           `json:"dailySummary"`
	Clothing     string           `json:"clothingAdvice"`
	SafetyNotes  string           `json:"safetyNotes"`
	WhatToExpect []string         `json:"whatToExpect"`
	RiskScores   RiskScores       `json:"riskScores"`
	RiskLabels   RiskLabels       `json:"riskLabels"`
	WarmthLevel  string           `json:"warmthLevel"`
	Week         []DayOutlook     `json:"week"`
}

// Screen returns the non-email fields of the report.
func (r ComposedReport) Screen() ScreenReport {
	return ScreenReport{
		Current:      r.Current,
		Daily:        r.Daily,
		DailySummary: r.Narrative.DailySummary,
		Clothing:     r.Narrative.ClothingAdvice,
		SafetyNotes:  r.Narrative.SafetyNotes,
		WhatToExpect: r.Narrative.WhatToExpect,
		RiskScores:   r.Narrative.RiskScores,
		RiskLabels:   r.RiskLabels,
		WarmthLevel:  r.WarmthLevel,
		Week:         r.Week,
	}
}

// DispatchResult describes the outcome of one notification dispatch.
type DispatchResult struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	TriggerID string `json:"triggerId"`
	Duplicate bool   `json:"duplicate"`
	SentAt    string `json:"sentAt,omitempty"`
}
