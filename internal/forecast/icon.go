package forecast

import (
	"time"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

// sunEdge is the window around sunrise and sunset that gets its own icon.
const sunEdge = 15 * time.Minute

// Icon picks the icon name for a condition at time at, given the day's sun
// times and cloud cover. Unknown conditions get "rainy-day".
func Icon(condition string, at, sunrise, sunset time.Time, cloudPercent float64) string {
	switch condition {
	case "Clear":
		switch {
		case !at.Before(sunrise.Add(sunEdge)) && !at.After(sunset.Add(-sunEdge)):
			return "sun"
		case !at.Before(sunrise.Add(-sunEdge)) && !at.After(sunrise.Add(sunEdge)):
			return "sunrise"
		case !at.Before(sunset.Add(-sunEdge)) && !at.After(sunset.Add(sunEdge)):
			return "sunset"
		default:
			return "moon"
		}
	case "Rain":
		return "rainy"
	case "Drizzle":
		return "drizzle"
	case "Thunderstorm":
		return "storm"
	case "Mist", "Fog":
		return "fog"
	case "Snow":
		return "snowing"
	case "Clouds":
		if cloudPercent > 50 {
			return "clouds"
		}
		if !at.Before(sunrise) && !at.After(sunset) {
			return "cloudy"
		}
		return "cloudy-night"
	default:
		return "rainy-day"
	}
}

type thresholds struct{ hot, cold int }

var extraIconThresholds = map[models.Units]thresholds{
	models.UnitsMetric:   {hot: 37, cold: -17},
	models.UnitsImperial: {hot: 99, cold: 0},
}

// ExtraIcon returns the badge shown next to the "feels like" reading:
// "hot", "cold", "umbrella" for rain, or "" for none.
func ExtraIcon(condition string, feelsLike int, units models.Units) string {
	th, ok := extraIconThresholds[units]
	if !ok {
		th = thresholds{hot: -1, cold: -1}
	}
	switch {
	case feelsLike >= th.hot:
		return "hot"
	case feelsLike <= th.cold:
		return "cold"
	case condition == "Rain":
		return "umbrella"
	}
	return ""
}

// DecorateSummaries sets the icon of every summary from its dominant
// condition and average cloud cover, evaluated at the current reading's time.
func DecorateSummaries(summaries []models.DailySummary, current models.CurrentWeather) {
	for i := range summaries {
		summaries[i].Icon = Icon(summaries[i].DominantCondition, current.Timestamp, current.Sunrise, current.Sunset, summaries[i].AvgCloudPercent)
	}
}
