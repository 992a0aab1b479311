// Package forecast turns a flat list of 3-hour forecast steps into daily
// buckets, per-day summaries and a chartable series.
package forecast

import (
	"fmt"
	"time"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

// MaxDays is the number of daily buckets kept after bucketing.
const MaxDays = 5

// TimeLabel renders an hour of day (0-23) the way the forecast strip shows it.
// Hours up to and including 12 are "AM", so noon reads "12 AM" and midnight "0 AM".
func TimeLabel(hour int) string {
	if hour <= 12 {
		return fmt.Sprintf("%d AM", hour)
	}
	return fmt.Sprintf("%d PM", hour-12)
}

// DayLabel returns the 3-letter weekday abbreviation for t.
func DayLabel(t time.Time) string {
	return t.Format("Mon")
}

// NewSample converts a raw forecast entry into a sample, deriving labels in loc.
func NewSample(e models.RawForecastEntry, loc *time.Location) models.ForecastSample {
	ts := time.Unix(e.Timestamp, 0).In(loc)
	return models.ForecastSample{
		Timestamp:            ts,
		DayLabel:             DayLabel(ts),
		Condition:            e.Condition,
		CloudPercent:         e.CloudPercent,
		Temperature:          models.Round(e.Temperature),
		PrecipitationPercent: models.Round(e.PrecipitationProbability * 100),
		TimeLabel:            TimeLabel(ts.Hour()),
	}
}

// NowSample builds the synthetic sample that seeds the first bucket from the
// current reading. It carries no time label.
func NowSample(c models.CurrentWeather, loc *time.Location) models.ForecastSample {
	ts := c.Timestamp.In(loc)
	return models.ForecastSample{
		Timestamp:    ts,
		DayLabel:     DayLabel(ts),
		Condition:    c.Condition,
		CloudPercent: c.CloudPercent,
		Temperature:  c.Temperature,
	}
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{y, m, d}
}

// Bucket groups entries by calendar day. The first bucket starts with now;
// a new bucket opens whenever an entry's date differs from the previous one,
// starting from today's date. Entries are taken in the given order and never
// re-sorted. Dates are derived in today's location. At most MaxDays buckets
// are returned.
func Bucket(now models.ForecastSample, entries []models.RawForecastEntry, today time.Time) []models.DailyBucket {
	loc := today.Location()
	buckets := []models.DailyBucket{{now}}
	cursor := dateOf(today)

	for _, e := range entries {
		s := NewSample(e, loc)
		if d := dateOf(s.Timestamp); d != cursor {
			buckets = append(buckets, models.DailyBucket{})
			cursor = d
		}
		last := len(buckets) - 1
		buckets[last] = append(buckets[last], s)
	}

	if len(buckets) > MaxDays {
		buckets = buckets[:MaxDays]
	}
	return buckets
}
