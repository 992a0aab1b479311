package models

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"
)

// Units selects the unit system requested from the upstream API.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// Valid reports whether u is a supported unit system.
func (u Units) Valid() bool {
	return u == UnitsMetric || u == UnitsImperial
}

// Symbol returns the degree suffix for display ("C" or "F").
func (u Units) Symbol() string {
	switch u {
	case UnitsMetric:
		return "C"
	case UnitsImperial:
		return "F"
	default:
		return ""
	}
}

// Query identifies one forecast load. Country is the display name the user
// picked; CountryCode is filled in by the service after lookup.
type Query struct {
	Zip         string `json:"zip" validate:"required"`
	Country     string `json:"country" validate:"required"`
	CountryCode string `json:"countryCode,omitempty"`
	APIKey      string `json:"-" validate:"required"`
	Units       Units  `json:"units" validate:"required,oneof=metric imperial"`
}

// Key names the location and unit system of the query. It carries no API key
// and is safe for logs and metric labels.
func (q Query) Key() string {
	return strings.ToLower(strings.TrimSpace(q.Zip)) + "," + strings.ToUpper(q.CountryCode) + "," + string(q.Units)
}

// CacheKey is Key plus a fingerprint of the API key. Reports and in-flight
// loads are shared only between callers using the same key.
func (q Query) CacheKey() string {
	return q.Key() + "," + KeyFingerprint(q.APIKey)
}

// KeyFingerprint returns the first 8 bytes of the SHA-256 of apiKey, hex encoded.
func KeyFingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}

// Round rounds half to even, the way readings are rounded for display.
func Round(v float64) int {
	return int(math.RoundToEven(v))
}

// Coordinates is a geocoding result for a postal code.
type Coordinates struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Name    string  `json:"name"`
	Country string  `json:"country"`
}

// CurrentWeather is the decoded current-conditions reading. Temperatures are
// already rounded in the requested unit system.
type CurrentWeather struct {
	Temperature  int       `json:"temperature"`
	FeelsLike    int       `json:"feelsLike"`
	Condition    string    `json:"condition"`
	Description  string    `json:"description"`
	Humidity     int       `json:"humidity"`
	CloudPercent int       `json:"cloudPercent"`
	City         string    `json:"city"`
	Country      string    `json:"country"`
	Timestamp    time.Time `json:"timestamp"`
	Sunrise      time.Time `json:"sunrise"`
	Sunset       time.Time `json:"sunset"`
}

// RawForecastEntry is one 3-hour step of the upstream forecast list.
type RawForecastEntry struct {
	Timestamp                int64   `json:"dt"`
	Condition                string  `json:"condition"`
	CloudPercent             int     `json:"cloudPercent"`
	Temperature              float64 `json:"temperature"`
	PrecipitationProbability float64 `json:"pop"`
}

// ForecastSample is a display-ready forecast point.
type ForecastSample struct {
	Timestamp            time.Time `json:"timestamp"`
	DayLabel             string    `json:"dayLabel"`
	Condition            string    `json:"condition"`
	CloudPercent         int       `json:"cloudPercent"`
	Temperature          int       `json:"temperature"`
	PrecipitationPercent int       `json:"precipitationPercent"`
	TimeLabel            string    `json:"timeLabel"`
}

// DailyBucket holds the samples of one calendar day in chronological order.
type DailyBucket []ForecastSample

// DailySummary is the per-day display summary of a bucket.
type DailySummary struct {
	DayLabel          string  `json:"dayLabel"`
	DominantCondition string  `json:"dominantCondition"`
	AvgCloudPercent   float64 `json:"avgCloudPercent"`
	HighLow           string  `json:"highLow"`
	Icon              string  `json:"icon,omitempty"`
}

// Report is the result of one forecast load.
type Report struct {
	Query     Query          `json:"query"`
	Current   CurrentWeather `json:"current"`
	Icon      string         `json:"icon"`
	ExtraIcon string         `json:"extraIcon,omitempty"`
	Buckets   []DailyBucket  `json:"buckets"`
	DayLabels []string       `json:"dayLabels"`
	Summaries []DailySummary `json:"summaries"`
	FetchedAt time.Time      `json:"fetchedAt"`
	Stale     bool           `json:"stale,omitempty"` // served from stale cache
}
