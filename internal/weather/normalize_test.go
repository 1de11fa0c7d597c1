package weather

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/winter-report-service/internal/failure"
	"github.com/kjstillabower/winter-report-service/internal/models"
)

// hourlySeries builds an aligned series of n hourly samples starting at start
// (wall clock, formatted without offset), all with the given weather code.
func hourlySeries(start time.Time, n, code int) models.HourlySeries {
	s := models.HourlySeries{}
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		s.Time = append(s.Time, ts.Format("2006-01-02T15:04"))
		s.Temperature = append(s.Temperature, float64(i%24)-10)
		s.ApparentTemperature = append(s.ApparentTemperature, float64(i%24)-15)
		s.Precipitation = append(s.Precipitation, 0.5)
		s.Rain = append(s.Rain, 0)
		s.Snowfall = append(s.Snowfall, 0.25)
		s.WeatherCode = append(s.WeatherCode, code)
		s.WindSpeed = append(s.WindSpeed, 36)
		s.WindDirection = append(s.WindDirection, 270)
		s.Humidity = append(s.Humidity, 80)
		s.CloudCover = append(s.CloudCover, 100)
	}
	return s
}

func day0() time.Time {
	return time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
}

func TestSnapshot_FirstSample(t *testing.T) {
	s := hourlySeries(day0(), 3, 71)
	s.Temperature[0] = -7.5
	s.ApparentTemperature[0] = -13
	s.WindSpeed[0] = 18

	snap, err := Snapshot(s)
	require.NoError(t, err)
	assert.Equal(t, -7.5, snap.Temperature)
	assert.Equal(t, -13.0, snap.ApparentTemperature)
	assert.Equal(t, models.ConditionSnow, snap.Condition)
	assert.InDelta(t, 5.0, snap.WindSpeed, 1e-9)
	assert.Equal(t, 270.0, snap.WindDirection)
	assert.Equal(t, 80.0, snap.Humidity)
}

func TestNormalize_TwoSnowDays(t *testing.T) {
	s := hourlySeries(day0(), 48, 71)

	n, err := Normalize(s, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.ConditionSnow, n.Snapshot.Condition)
	require.Len(t, n.Daily, 2)
	assert.Equal(t, "2026-01-05", n.Daily[0].Date)
	assert.Equal(t, "2026-01-06", n.Daily[1].Date)
	for _, d := range n.Daily {
		assert.Equal(t, models.ConditionSnow, d.RepresentativeCondition)
	}
}

func TestDailyAggregates_Statistics(t *testing.T) {
	s := hourlySeries(day0(), 24, 3)

	days, err := DailyAggregates(s, time.UTC)
	require.NoError(t, err)
	require.Len(t, days, 1)
	d := days[0]
	assert.Equal(t, -10.0, d.MinTemperature)
	assert.Equal(t, 13.0, d.MaxTemperature)
	assert.InDelta(t, 1.5, d.MeanTemperature, 1e-9)
	assert.InDelta(t, 12.0, d.TotalPrecipitation, 1e-9)
	assert.InDelta(t, 6.0, d.TotalSnowfall, 1e-9)
	assert.Equal(t, models.ConditionCloudy, d.RepresentativeCondition)
}

func TestDailyAggregates_RepresentativeIsMedianIndex(t *testing.T) {
	tests := []struct {
		size    int
		pickIdx int
	}{
		{1, 0},
		{2, 1},
		{3, 1},
		{4, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("size_%d", tt.size), func(t *testing.T) {
			s := hourlySeries(day0(), tt.size, 0)
			s.WeatherCode[tt.pickIdx] = 95

			days, err := DailyAggregates(s, time.UTC)
			require.NoError(t, err)
			require.Len(t, days, 1)
			assert.Equal(t, models.ConditionThunderstorm, days[0].RepresentativeCondition)
		})
	}
}

func TestDailyAggregates_TruncatesToSevenDays(t *testing.T) {
	for _, numDays := range []int{1, 3, 7, 8, 10} {
		t.Run(fmt.Sprintf("%d_days", numDays), func(t *testing.T) {
			s := hourlySeries(day0(), numDays*24, 61)

			days, err := DailyAggregates(s, time.UTC)
			require.NoError(t, err)
			want := numDays
			if want > MaxDays {
				want = MaxDays
			}
			require.Len(t, days, want)
			seen := make(map[string]bool)
			for i, d := range days {
				assert.False(t, seen[d.Date], "duplicate date key %s", d.Date)
				seen[d.Date] = true
				if i > 0 {
					assert.Less(t, days[i-1].Date, d.Date, "keys not chronological")
				}
			}
		})
	}
}

func TestDailyAggregates_UsesReferenceLocation(t *testing.T) {
	// 24 samples from 20:00 local: 4 hours fall on the first local day.
	s := hourlySeries(time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC), 24, 71)
	toronto := time.FixedZone("EST", -5*3600)

	days, err := DailyAggregates(s, toronto)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-01-05", days[0].Date)
	assert.Equal(t, "2026-01-06", days[1].Date)
}

func TestDailyAggregates_RFC3339ConvertedToLocation(t *testing.T) {
	s := hourlySeries(day0(), 2, 0)
	s.Time = []string{"2026-01-06T02:00:00Z", "2026-01-06T06:00:00Z"}
	toronto := time.FixedZone("EST", -5*3600)

	days, err := DailyAggregates(s, toronto)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-01-05", days[0].Date)
	assert.Equal(t, "2026-01-06", days[1].Date)
}

func TestDailyAggregates_Errors(t *testing.T) {
	misaligned := hourlySeries(day0(), 4, 0)
	misaligned.Snowfall = misaligned.Snowfall[:3]

	badTime := hourlySeries(day0(), 2, 0)
	badTime.Time[1] = "yesterday"

	tests := []struct {
		name   string
		series models.HourlySeries
		want   error
	}{
		{"empty", models.HourlySeries{}, failure.ErrEmptySeries},
		{"misaligned", misaligned, failure.ErrMisalignedArrays},
		{"bad timestamp", badTime, failure.ErrInvalidTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DailyAggregates(tt.series, time.UTC)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSnapshot_Errors(t *testing.T) {
	_, err := Snapshot(models.HourlySeries{})
	require.ErrorIs(t, err, failure.ErrEmptySeries)

	s := hourlySeries(day0(), 2, 0)
	s.WeatherCode = nil
	_, err = Snapshot(s)
	require.ErrorIs(t, err, failure.ErrMisalignedArrays)
}

func TestLocation(t *testing.T) {
	loc := Location(models.Forecast{Timezone: "America/Toronto", UTCOffsetSeconds: -18000})
	assert.Equal(t, "America/Toronto", loc.String())

	fixed := Location(models.Forecast{Timezone: "Not/AZone", UTCOffsetSeconds: 3600})
	_, offset := time.Date(2026, 1, 1, 0, 0, 0, 0, fixed).Zone()
	assert.Equal(t, 3600, offset)

	assert.Equal(t, time.UTC, Location(models.Forecast{}))
}
