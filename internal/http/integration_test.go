//go:build integration
// +build integration

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/zip-forecast/internal/cache"
	"github.com/kjstillabower/zip-forecast/internal/circuitbreaker"
	"github.com/kjstillabower/zip-forecast/internal/client"
	"github.com/kjstillabower/zip-forecast/internal/models"
	"github.com/kjstillabower/zip-forecast/internal/service"
	"github.com/kjstillabower/zip-forecast/internal/settings"
	"github.com/kjstillabower/zip-forecast/internal/testhelpers"
)

type integrationEnv struct {
	upstream *testhelpers.Upstream
	router   http.Handler
}

// setupIntegration wires the real client, cache, service and router against a
// fake upstream.
func setupIntegration(t *testing.T, limiter *rate.Limiter, staleTTL time.Duration) *integrationEnv {
	t.Helper()
	resetState(t)

	up := testhelpers.NewUpstream(t, time.Now().UTC())
	wc, err := client.NewOpenWeatherClientWithRetry(up.URL(), 2*time.Second, 1, time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("NewOpenWeatherClientWithRetry() error = %v", err)
	}
	wc.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 100, SuccessThreshold: 1, Timeout: time.Second}))

	svc := service.NewForecastService(wc, cache.NewInMemoryCache(staleTTL), service.Options{
		TTL:             time.Millisecond,
		StaleCacheTTL:   staleTTL,
		CoalesceEnabled: true,
		CoalesceTimeout: 2 * time.Second,
		Location:        time.UTC,
	})
	store := settings.NewStore(t.TempDir() + "/user.json")
	h := NewHandler(svc, wc, store, QueryDefaults{APIKey: testhelpers.DefaultAPIKey, Country: "United States"},
		&HealthConfig{APIKey: testhelpers.DefaultAPIKey, DegradedWindow: time.Minute, DegradedErrorPct: 50}, zap.NewNop())
	return &integrationEnv{
		upstream: up,
		router:   NewRouter(h, RouterOptions{Limiter: limiter, RequestTimeout: 5 * time.Second}),
	}
}

func (e *integrationEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

// TestIntegration_GetForecast_FullStack verifies a forecast load through the
// real client and cache.
func TestIntegration_GetForecast_FullStack(t *testing.T) {
	env := setupIntegration(t, nil, 0)

	w := env.get(t, "/forecast?zip=10001")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var report models.Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Current.City != "New York" {
		t.Errorf("Current.City = %q, want New York", report.Current.City)
	}
	if report.Current.Temperature != 18 {
		t.Errorf("Current.Temperature = %d, want 18", report.Current.Temperature)
	}
	if len(report.Buckets) < 5 {
		t.Errorf("len(Buckets) = %d, want >= 5", len(report.Buckets))
	}
	if report.Icon == "" {
		t.Error("Icon empty")
	}
}

func TestIntegration_GetForecast_UnknownZip(t *testing.T) {
	env := setupIntegration(t, nil, 0)

	w := env.get(t, "/forecast?zip=99999")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body=%s", w.Code, w.Body.String())
	}
	if env.upstream.Calls("geocode") != 2 {
		t.Errorf("geocode calls = %d, want 2 (lookup + key probe)", env.upstream.Calls("geocode"))
	}
}

func TestIntegration_GetForecast_RejectedKey(t *testing.T) {
	env := setupIntegration(t, nil, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/forecast?zip=10001", nil)
	req.Header.Set(APIKeyHeader, "ffffffffffffffffffffffffffffffff")
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401; body=%s", w.Code, w.Body.String())
	}
}

// TestIntegration_StaleServedDuringOutage verifies that a previously fetched
// report is served, flagged stale, when upstream starts failing.
func TestIntegration_StaleServedDuringOutage(t *testing.T) {
	env := setupIntegration(t, nil, time.Hour)

	if w := env.get(t, "/forecast?zip=90210"); w.Code != http.StatusOK {
		t.Fatalf("warm status = %d", w.Code)
	}
	time.Sleep(5 * time.Millisecond)
	env.upstream.SetFailing(true)

	w := env.get(t, "/forecast?zip=90210")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 from stale cache; body=%s", w.Code, w.Body.String())
	}
	var report models.Report
	_ = json.NewDecoder(w.Body).Decode(&report)
	if !report.Stale {
		t.Error("Stale = false, want true")
	}

	if w := env.get(t, "/forecast?zip=10001"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("uncached status = %d, want 503", w.Code)
	}
}

func TestIntegration_GetHealth_FullStack(t *testing.T) {
	env := setupIntegration(t, nil, 0)

	w := env.get(t, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	body := healthStatus(t, w)
	if checks := body["checks"].(map[string]interface{}); checks["apiKey"] != "valid" {
		t.Errorf("checks.apiKey = %v, want valid", checks["apiKey"])
	}
}

func TestIntegration_GetMetrics_Format(t *testing.T) {
	env := setupIntegration(t, nil, 0)
	env.get(t, "/forecast?zip=10001")

	w := env.get(t, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "weatherApiCallsTotal", "forecastLoadsTotal", "forecastBucketsBuilt"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
	if !strings.Contains(body, `route="/forecast"`) {
		t.Error(`metrics output missing route="/forecast" label`)
	}
}

func TestIntegration_RateLimiting_Concurrent(t *testing.T) {
	env := setupIntegration(t, rate.NewLimiter(rate.Every(time.Hour), 5), 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := map[int]int{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := env.get(t, "/forecast?zip=10001")
			mu.Lock()
			codes[w.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if codes[http.StatusOK] != 5 {
		t.Errorf("200 responses = %d, want 5", codes[http.StatusOK])
	}
	if codes[http.StatusTooManyRequests] != 15 {
		t.Errorf("429 responses = %d, want 15", codes[http.StatusTooManyRequests])
	}
}
