package forecast

import (
	"errors"
	"fmt"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

// ErrEmptyBucket is returned when a bucket with no samples is summarized.
var ErrEmptyBucket = errors.New("forecast: empty bucket")

// ErrNoBuckets is returned when an operation needs at least one bucket.
var ErrNoBuckets = errors.New("forecast: no buckets")

// DayLabels collects the day label of every sample across all buckets and
// drops repeats, keeping first-occurrence order.
func DayLabels(buckets []models.DailyBucket) []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, b := range buckets {
		for _, s := range b {
			if _, ok := seen[s.DayLabel]; ok {
				continue
			}
			seen[s.DayLabel] = struct{}{}
			labels = append(labels, s.DayLabel)
		}
	}
	return labels
}

// DominantCondition returns the most frequent condition in b. Ties go to the
// condition seen first.
func DominantCondition(b models.DailyBucket) string {
	counts := make(map[string]int)
	var order []string
	for _, s := range b {
		if _, ok := counts[s.Condition]; !ok {
			order = append(order, s.Condition)
		}
		counts[s.Condition]++
	}
	best, bestCount := "", 0
	for _, c := range order {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}

// HighLow formats the high and low of a set of temperatures as "{max}° {min}°".
func HighLow(high, low int) string {
	return fmt.Sprintf("%d° %d°", high, low)
}

// SummarizeBucket reduces one bucket to its dominant condition, unrounded
// average cloud cover and high/low string. DayLabel is left for the caller.
func SummarizeBucket(b models.DailyBucket) (models.DailySummary, error) {
	if len(b) == 0 {
		return models.DailySummary{}, ErrEmptyBucket
	}
	clouds := 0
	high, low := b[0].Temperature, b[0].Temperature
	for _, s := range b {
		clouds += s.CloudPercent
		if s.Temperature > high {
			high = s.Temperature
		}
		if s.Temperature < low {
			low = s.Temperature
		}
	}
	return models.DailySummary{
		DominantCondition: DominantCondition(b),
		AvgCloudPercent:   float64(clouds) / float64(len(b)),
		HighLow:           HighLow(high, low),
	}, nil
}

// Summarize returns one summary per bucket. Day labels come from DayLabels by
// position, falling back to the bucket's first sample when the de-duplicated
// list is shorter than the bucket list. buckets is not modified.
func Summarize(buckets []models.DailyBucket) ([]models.DailySummary, error) {
	labels := DayLabels(buckets)
	out := make([]models.DailySummary, 0, len(buckets))
	for i, b := range buckets {
		sum, err := SummarizeBucket(b)
		if err != nil {
			return nil, fmt.Errorf("summarize day %d: %w", i, err)
		}
		if i < len(labels) {
			sum.DayLabel = labels[i]
		} else {
			sum.DayLabel = b[0].DayLabel
		}
		out = append(out, sum)
	}
	return out, nil
}
