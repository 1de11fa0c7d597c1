package models

// Condition is a categorical weather label derived from a WMO weather code.
type Condition string

const (
	ConditionClear        Condition = "Clear"
	ConditionCloudy       Condition = "Cloudy"
	ConditionFoggy        Condition = "Foggy"
	ConditionRain         Condition = "Rain"
	ConditionSnow         Condition = "Snow"
	ConditionThunderstorm Condition = "Thunderstorm"
	ConditionUnknown      Condition = "Unknown"
)

// Coordinates identify a forecast point.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// DefaultCoordinates is Toronto, used when a request names no location.
var DefaultCoordinates = Coordinates{Latitude: 43.6532, Longitude: -79.3832}

// HourlySeries is the struct-of-arrays hourly forecast as returned by the
// forecast provider. Every per-field slice is index-aligned with Time.
type HourlySeries struct {
	Time                []string  `json:"time"`
	Temperature         []float64 `json:"temperature_2m"`
	ApparentTemperature []float64 `json:"apparent_temperature"`
	Precipitation       []float64 `json:"precipitation"`
	Rain                []float64 `json:"rain"`
	Snowfall            []float64 `json:"snowfall"`
	WeatherCode         []int     `json:"weather_code"`
	WindSpeed           []float64 `json:"wind_speed_10m"` // km/h
	WindDirection       []float64 `json:"wind_direction_10m"`
	Humidity            []float64 `json:"relative_humidity_2m"`
	CloudCover          []float64 `json:"cloud_cover"`
}

// Len returns the number of samples (length of the timestamp array).
func (s HourlySeries) Len() int {
	return len(s.Time)
}

// Forecast is the raw provider response: hourly series plus the reference
// timezone its wall-clock timestamps are expressed in.
type Forecast struct {
	Latitude         float64      `json:"latitude"`
	Longitude        float64      `json:"longitude"`
	Timezone         string       `json:"timezone"`
	UTCOffsetSeconds int          `json:"utc_offset_seconds"`
	Hourly           HourlySeries `json:"hourly"`
}

// CurrentSnapshot describes conditions at the first sample of a series.
type CurrentSnapshot struct {
	Temperature         float64   `json:"temperature"`
	ApparentTemperature float64   `json:"apparentTemperature"`
	Condition           Condition `json:"condition"`
	WindSpeed           float64   `json:"windSpeed"` // m/s
	WindDirection       float64   `json:"windDirection"`
	Humidity            float64   `json:"humidity"`
}

// DailyAggregate summarises all samples that fall on one calendar day.
type DailyAggregate struct {
	Date                    string    `json:"date"` // YYYY-MM-DD in the series' local time
	MeanTemperature         float64   `json:"meanTemperature"`
	MinTemperature          float64   `json:"minTemperature"`
	MaxTemperature          float64   `json:"maxTemperature"`
	RepresentativeCondition Condition `json:"representativeCondition"`
	TotalPrecipitation      float64   `json:"totalPrecipitation"`
	TotalSnowfall           float64   `json:"totalSnowfall"`
}

// WeatherReport is the forecast view returned to clients: the normalized
// snapshot and outlook alongside the raw hourly series.
type WeatherReport struct {
	Location Coordinates      `json:"location"`
	Timezone string           `json:"timezone"`
	Current  CurrentSnapshot  `json:"current"`
	Daily    []DailyAggregate `json:"daily"`
	Hourly   HourlySeries     `json:"hourly"`
}
