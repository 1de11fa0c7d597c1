package weather

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/kjstillabower/winter-report-service/internal/failure"
	"github.com/kjstillabower/winter-report-service/internal/models"
)

// MaxDays is the number of distinct calendar days surfaced by DailyAggregates.
const MaxDays = 7

// kmhPerMS converts km/h to m/s.
const kmhPerMS = 3.6

const dateKeyLayout = "2006-01-02"

// timestampLayouts are tried in order. Wall-clock layouts are interpreted in the
// series' reference location; RFC 3339 carries its own offset.
var timestampLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Normalized is the output of the normalization stage.
type Normalized struct {
	Snapshot models.CurrentSnapshot  `json:"current"`
	Daily    []models.DailyAggregate `json:"daily"`
}

// Location returns the reference location for a forecast's wall-clock timestamps.
// It prefers the IANA timezone name and falls back to a fixed zone built from the
// UTC offset the provider reported.
func Location(f models.Forecast) *time.Location {
	if f.Timezone != "" {
		if loc, err := time.LoadLocation(f.Timezone); err == nil {
			return loc
		}
	}
	name := f.Timezone
	if name == "" {
		name = "UTC"
	}
	if f.UTCOffsetSeconds == 0 && name == "UTC" {
		return time.UTC
	}
	return time.FixedZone(name, f.UTCOffsetSeconds)
}

// Normalize builds the current snapshot and daily aggregates for series,
// grouping days in loc.
func Normalize(series models.HourlySeries, loc *time.Location) (Normalized, error) {
	snap, err := Snapshot(series)
	if err != nil {
		return Normalized{}, err
	}
	daily, err := DailyAggregates(series, loc)
	if err != nil {
		return Normalized{}, err
	}
	return Normalized{Snapshot: snap, Daily: daily}, nil
}

// Snapshot takes the first sample as "now". Wind speed is converted from km/h to m/s.
func Snapshot(series models.HourlySeries) (models.CurrentSnapshot, error) {
	if err := checkAligned(series); err != nil {
		return models.CurrentSnapshot{}, err
	}
	return models.CurrentSnapshot{
		Temperature:         series.Temperature[0],
		ApparentTemperature: series.ApparentTemperature[0],
		Condition:           Classify(series.WeatherCode[0]),
		WindSpeed:           series.WindSpeed[0] / kmhPerMS,
		WindDirection:       series.WindDirection[0],
		Humidity:            series.Humidity[0],
	}, nil
}

// DailyAggregates groups samples by calendar date in loc, preserving first-seen
// order, and returns at most MaxDays aggregates. A nil loc means UTC.
//
// The representative condition is taken from the sample at floor(n/2) of each
// day. This mirrors the established behaviour and is a heuristic, not a
// weighted or dominant-condition selection.
func DailyAggregates(series models.HourlySeries, loc *time.Location) ([]models.DailyAggregate, error) {
	if err := checkAligned(series); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	var order []string
	groups := make(map[string][]int)
	for i, raw := range series.Time {
		ts, err := parseTimestamp(raw, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: index %d: %q", failure.ErrInvalidTimestamp, i, raw)
		}
		key := ts.In(loc).Format(dateKeyLayout)
		if _, ok := groups[key]; !ok {
			if len(order) == MaxDays {
				// Later samples can only open new days once the limit is hit.
				continue
			}
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	out := make([]models.DailyAggregate, 0, len(order))
	for _, key := range order {
		out = append(out, aggregate(series, key, groups[key]))
	}
	return out, nil
}

func aggregate(series models.HourlySeries, key string, idx []int) models.DailyAggregate {
	first := series.Temperature[idx[0]]
	agg := models.DailyAggregate{
		Date:           key,
		MinTemperature: first,
		MaxTemperature: first,
	}
	var sum float64
	for _, i := range idx {
		t := series.Temperature[i]
		sum += t
		if t < agg.MinTemperature {
			agg.MinTemperature = t
		}
		if t > agg.MaxTemperature {
			agg.MaxTemperature = t
		}
		agg.TotalPrecipitation += series.Precipitation[i]
		agg.TotalSnowfall += series.Snowfall[i]
	}
	agg.MeanTemperature = sum / float64(len(idx))
	agg.RepresentativeCondition = Classify(series.WeatherCode[idx[len(idx)/2]])
	return agg
}

// checkAligned enforces the series invariants: at least one sample and every
// per-field array the same length as the timestamps.
func checkAligned(series models.HourlySeries) error {
	n := series.Len()
	if n == 0 {
		return failure.ErrEmptySeries
	}
	lengths := []struct {
		field string
		n     int
	}{
		{"temperature_2m", len(series.Temperature)},
		{"apparent_temperature", len(series.ApparentTemperature)},
		{"precipitation", len(series.Precipitation)},
		{"rain", len(series.Rain)},
		{"snowfall", len(series.Snowfall)},
		{"weather_code", len(series.WeatherCode)},
		{"wind_speed_10m", len(series.WindSpeed)},
		{"wind_direction_10m", len(series.WindDirection)},
		{"relative_humidity_2m", len(series.Humidity)},
		{"cloud_cover", len(series.CloudCover)},
	}
	for _, l := range lengths {
		if l.n != n {
			return fmt.Errorf("%w: %s has %d values, time has %d", failure.ErrMisalignedArrays, l.field, l.n, n)
		}
	}
	return nil
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.ParseInLocation(layout, raw, loc)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
