package models

// RiskScores are hazard severities: 0 low, 1 medium, 2 high.
type RiskScores struct {
	Road int `json:"road"`
	Cold int `json:"cold"`
	Slip int `json:"slip"`
}

// WeeklyMood is a one-word mood label for a forecast day.
type WeeklyMood struct {
	Day  string `json:"day"`
	Mood string `json:"mood"`
}

// NarrativeReport holds the validated narrative fields produced by the
// summarization service. The detailed fields are only populated by the
// detailed variant.
type NarrativeReport struct {
	DailySummary   string       `json:"dailySummary"`
	ClothingAdvice string       `json:"clothingAdvice"`
	SafetyNotes    string       `json:"safetyNotes"`
	WhatToExpect   []string     `json:"whatToExpect"`
	RiskScores     RiskScores   `json:"riskScores"`
	WeeklyMoods    []WeeklyMood `json:"weeklyMoods"`

	TemperatureDetails string `json:"temperatureDetails,omitempty"`
	WeatherCondition   string `json:"weatherCondition,omitempty"`
	BestDriveTimes     string `json:"bestDriveTimes,omitempty"`
	AvoidDriveTimes    string `json:"avoidDriveTimes,omitempty"`
	SnowStormInfo      string `json:"snowStormInfo,omitempty"`
	WindInfo           string `json:"windInfo,omitempty"`
	HighwaySpeed       string `json:"highwaySpeed,omitempty"`
	CitySpeed          string `json:"citySpeed,omitempty"`
	VisibilityInfo     string `json:"visibilityInfo,omitempty"`
}
