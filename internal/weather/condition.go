package weather

import "github.com/kjstillabower/winter-report-service/internal/models"

// conditionRanges is evaluated in order; the first range containing the code wins.
// Ranges follow the WMO weather interpretation code table.
var conditionRanges = []struct {
	lo, hi    int
	condition models.Condition
}{
	{0, 0, models.ConditionClear},
	{1, 3, models.ConditionCloudy},
	{4, 49, models.ConditionFoggy},
	{50, 59, models.ConditionRain},
	{60, 69, models.ConditionRain},
	{70, 79, models.ConditionSnow},
	{80, 84, models.ConditionSnow},
	{85, 86, models.ConditionSnow},
	{87, 99, models.ConditionThunderstorm},
}

// Classify maps a WMO weather code to a condition label. Codes outside 0-99 are Unknown.
func Classify(code int) models.Condition {
	for _, r := range conditionRanges {
		if code >= r.lo && code <= r.hi {
			return r.condition
		}
	}
	return models.ConditionUnknown
}
