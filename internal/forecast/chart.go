package forecast

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

// ChartPoints is the number of points the first-day chart is padded to.
const ChartPoints = 8

// Metric selects which value feeds the chart line.
type Metric string

const (
	MetricTemperature   Metric = "temperature"
	MetricPrecipitation Metric = "precipitation"
)

// ErrUnknownMetric is returned by ParseMetric for anything but temperature or precipitation.
var ErrUnknownMetric = errors.New("forecast: unknown chart metric")

// ParseMetric parses a metric name; empty means temperature.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricTemperature:
		return MetricTemperature, nil
	case MetricPrecipitation:
		return MetricPrecipitation, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// axis margins per metric: below min, above max.
var axisOffsets = map[Metric][2]int{
	MetricTemperature:   {3, 3},
	MetricPrecipitation: {3, 15},
}

// ChartPoint is a sample projected down to what the chart needs.
type ChartPoint struct {
	Temperature   int    `json:"temperature"`
	Precipitation int    `json:"precipitation"`
	TimeLabel     string `json:"timeLabel"`
}

// Value returns the field selected by m.
func (p ChartPoint) Value(m Metric) int {
	if m == MetricPrecipitation {
		return p.Precipitation
	}
	return p.Temperature
}

// SeriesPoint is one chart point; X is its index in the series.
type SeriesPoint struct {
	X     int    `json:"x"`
	Value int    `json:"value"`
	Label string `json:"label"`
}

// Series is the first-day chart for one metric with its y-axis bounds.
type Series struct {
	Metric  Metric        `json:"metric"`
	Points  []SeriesPoint `json:"points"`
	AxisMin int           `json:"axisMin"`
	AxisMax int           `json:"axisMax"`
}

// Spillover returns how many samples of the second bucket are borrowed to
// pad the first one to ChartPoints. It is 0 without a second bucket.
func Spillover(buckets []models.DailyBucket) int {
	if len(buckets) < 2 {
		return 0
	}
	n := ChartPoints - len(buckets[0])
	if n < 0 {
		return 0
	}
	if n > len(buckets[1]) {
		n = len(buckets[1])
	}
	return n
}

// Reshape projects every bucket to chart points, extending the first bucket
// with the spillover from the second. buckets is not modified.
func Reshape(buckets []models.DailyBucket) [][]ChartPoint {
	out := make([][]ChartPoint, len(buckets))
	for i, b := range buckets {
		out[i] = project(b)
	}
	if n := Spillover(buckets); n > 0 {
		out[0] = append(out[0], project(buckets[1][:n])...)
	}
	return out
}

func project(b models.DailyBucket) []ChartPoint {
	pts := make([]ChartPoint, 0, len(b))
	for _, s := range b {
		pts = append(pts, ChartPoint{
			Temperature:   s.Temperature,
			Precipitation: s.PrecipitationPercent,
			TimeLabel:     s.TimeLabel,
		})
	}
	return pts
}

// AxisRange returns the y-axis bounds for values: min and max widened by the
// metric's fixed margins. An empty slice yields the bare margins around 0.
func AxisRange(m Metric, values []int) (lo, hi int) {
	off, ok := axisOffsets[m]
	if !ok {
		off = axisOffsets[MetricTemperature]
	}
	if len(values) == 0 {
		return -off[0], off[1]
	}
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo - off[0], hi + off[1]
}

// Chart builds the first-day series for m from buckets.
func Chart(buckets []models.DailyBucket, m Metric) (Series, error) {
	if len(buckets) == 0 {
		return Series{}, ErrNoBuckets
	}
	if _, ok := axisOffsets[m]; !ok {
		return Series{}, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
	first := Reshape(buckets)[0]
	values := make([]int, len(first))
	points := make([]SeriesPoint, len(first))
	for i, p := range first {
		values[i] = p.Value(m)
		points[i] = SeriesPoint{X: i, Value: values[i], Label: p.TimeLabel}
	}
	lo, hi := AxisRange(m, values)
	return Series{Metric: m, Points: points, AxisMin: lo, AxisMax: hi}, nil
}
