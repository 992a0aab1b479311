// Package testhelpers provides a fake OpenWeather upstream for tests that
// exercise the real HTTP client end to end.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

// DefaultAPIKey is the key the fake upstream accepts unless told otherwise.
const DefaultAPIKey = "0123456789abcdef0123456789abcdef"

// Upstream serves geocode, current weather and 5-day forecast responses for
// a fixed set of postal codes.
type Upstream struct {
	Server *httptest.Server
	APIKey string
	// Now anchors current readings and the first forecast step.
	Now time.Time

	mu      sync.Mutex
	zips    map[string]models.Coordinates
	failing bool
	calls   map[string]int
}

// NewUpstream starts a fake upstream that knows 10001,US and 90210,US.
// The server is closed when the test ends.
func NewUpstream(t testing.TB, now time.Time) *Upstream {
	t.Helper()
	u := &Upstream{
		APIKey: DefaultAPIKey,
		Now:    now,
		zips: map[string]models.Coordinates{
			"10001,US": {Lat: 40.75, Lon: -73.99, Name: "New York", Country: "US"},
			"90210,US": {Lat: 34.09, Lon: -118.41, Name: "Beverly Hills", Country: "US"},
		},
		calls: make(map[string]int),
	}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Server.Close)
	return u
}

// URL returns the base URL to hand to the client.
func (u *Upstream) URL() string {
	return u.Server.URL + "/"
}

// AddZip registers another postal code ("zip,CC").
func (u *Upstream) AddZip(key string, c models.Coordinates) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.zips[key] = c
}

// SetFailing makes every endpoint answer 503 while true.
func (u *Upstream) SetFailing(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failing = v
}

// Calls returns how many requests hit path ("geocode", "current" or "forecast").
func (u *Upstream) Calls(endpoint string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[endpoint]
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	endpoint := ""
	switch {
	case strings.HasSuffix(r.URL.Path, "/geo/1.0/zip"):
		endpoint = "geocode"
	case strings.HasSuffix(r.URL.Path, "/data/2.5/weather"):
		endpoint = "current"
	case strings.HasSuffix(r.URL.Path, "/data/2.5/forecast"):
		endpoint = "forecast"
	default:
		http.NotFound(w, r)
		return
	}

	u.mu.Lock()
	u.calls[endpoint]++
	failing := u.failing
	coords, known := u.zips[r.URL.Query().Get("zip")]
	u.mu.Unlock()

	if failing {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("appid") != u.APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"cod": 401, "message": "Invalid API key"})
		return
	}

	switch endpoint {
	case "geocode":
		if !known {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"cod": "404", "message": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name": coords.Name, "lat": coords.Lat, "lon": coords.Lon, "country": coords.Country,
		})
	case "current":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"dt":      u.Now.Unix(),
			"name":    "",
			"main":    map[string]interface{}{"temp": 18.4, "feels_like": 17.6, "humidity": 60},
			"weather": []map[string]string{{"main": "Clear", "description": "clear sky"}},
			"clouds":  map[string]int{"all": 0},
			"sys": map[string]interface{}{
				"sunrise": u.Now.Add(-4 * time.Hour).Unix(),
				"sunset":  u.Now.Add(11 * time.Hour).Unix(),
			},
		})
	case "forecast":
		writeJSON(w, http.StatusOK, map[string]interface{}{"list": u.forecastList()})
	}
}

// forecastList returns 40 three-hourly steps starting at the next 3-hour mark.
func (u *Upstream) forecastList() []map[string]interface{} {
	start := u.Now.Truncate(3 * time.Hour).Add(3 * time.Hour)
	list := make([]map[string]interface{}, 40)
	for i := range list {
		list[i] = map[string]interface{}{
			"dt":      start.Add(time.Duration(i) * 3 * time.Hour).Unix(),
			"main":    map[string]float64{"temp": 20 + float64(i%4)},
			"weather": []map[string]string{{"main": "Clouds", "description": "broken clouds"}},
			"clouds":  map[string]int{"all": 60},
			"pop":     0.25,
		}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
