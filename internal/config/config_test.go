package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.openweathermap.org/"
  timeout: "5s"
request:
  timeout: "15s"
cache:
  ttl: "10m"
`

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "WEATHER_API_KEY", "CACHE_BACKEND", "MEMCACHED_ADDRS", "SETTINGS_PATH"} {
		t.Setenv(k, "")
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile dev.yaml: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config", "secrets.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile secrets.yaml: %v", err)
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "server:\n  port: \"9090\"\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"ServerPort", cfg.ServerPort, "9090"},
		{"WeatherAPIKey", cfg.WeatherAPIKey, ""},
		{"WeatherAPIURL", cfg.WeatherAPIURL, "https://api.openweathermap.org/"},
		{"WeatherAPITimeout", cfg.WeatherAPITimeout, 5 * time.Second},
		{"RequestTimeout", cfg.RequestTimeout, 15 * time.Second},
		{"CacheTTL", cfg.CacheTTL, 10 * time.Minute},
		{"CacheBackend", cfg.CacheBackend, "in_memory"},
		{"StaleCacheTTL", cfg.StaleCacheTTL, time.Hour},
		{"CoalesceEnabled", cfg.CoalesceEnabled, true},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, true},
		{"CircuitBreakerFailureThreshold", cfg.CircuitBreakerFailureThreshold, 5},
		{"RetryAttempts", cfg.RetryAttempts, 3},
		{"SettingsPath", cfg.SettingsPath, "user.json"},
		{"DefaultUnits", cfg.DefaultUnits, models.UnitsMetric},
		{"WarmInterval", cfg.WarmInterval, 15 * time.Minute},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
	if cfg.Location != time.Local {
		t.Errorf("Location = %v, want time.Local", cfg.Location)
	}
}

func TestLoadFrom_NoAPIKeyIsAllowed(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v, want nil without an API key", err)
	}
	if cfg.WeatherAPIKey != "" {
		t.Errorf("WeatherAPIKey = %q, want empty", cfg.WeatherAPIKey)
	}
}

func TestLoadFrom_SecretsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
}

func TestLoadFrom_EnvOverridesSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "key-from-env")
	t.Setenv("CACHE_BACKEND", "Memcached")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")
	t.Setenv("SETTINGS_PATH", "/tmp/settings.json")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-env" {
		t.Errorf("WeatherAPIKey = %q, want key from env", cfg.WeatherAPIKey)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
	if cfg.SettingsPath != "/tmp/settings.json" {
		t.Errorf("SettingsPath = %q", cfg.SettingsPath)
	}
}

func TestLoadFrom_DotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("WEATHER_API_KEY")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WEATHER_API_KEY=key-from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-dotenv" {
		t.Errorf("WeatherAPIKey = %q, want key from .env", cfg.WeatherAPIKey)
	}
}

func TestLoadFrom_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")

	_, err := LoadFrom(t.TempDir())
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("LoadFrom() error = %v, want ErrConfigNotFound", err)
	}
	if !strings.Contains(err.Error(), "nonexistent.yaml") {
		t.Errorf("error = %v, want the missing path", err)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "server: [unterminated\n")
	if _, err := LoadFrom(dir); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("LoadFrom() error = %v, want parse error", err)
	}
}

func TestLoadFrom_InvalidSecretsYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: [unterminated\n")
	if _, err := LoadFrom(dir); err == nil || !strings.Contains(err.Error(), "parse secrets file") {
		t.Errorf("LoadFrom() error = %v, want secrets parse error", err)
	}
}

func TestLoadFrom_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: "soon"
cache:
  ttl: ""
  coalesce:
    timeout: "-1s"
`)
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPITimeout != 5*time.Second {
		t.Errorf("WeatherAPITimeout = %v, want 5s", cfg.WeatherAPITimeout)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want 10m", cfg.CacheTTL)
	}
	if cfg.CoalesceTimeout != 10*time.Second {
		t.Errorf("CoalesceTimeout = %v, want 10s", cfg.CoalesceTimeout)
	}
}

func TestLoadFrom_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"zero api timeout", "weather_api:\n  timeout: \"0s\"\n", "weather_api.timeout"},
		{"bad backend", "cache:\n  backend: redis\n", "cache.backend"},
		{"bad units", "forecast:\n  default_units: kelvin\n", "default_units"},
		{"bad timezone", "forecast:\n  timezone: Mars/Olympus\n", "forecast.timezone"},
		{"negative stale ttl", "cache:\n  stale_ttl: \"-1m\"\n", "stale_ttl"},
		{"warm query without zip", "cache:\n  warming:\n    queries:\n      - country: US\n", "queries[0]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeEnvFile(t, dir, tc.yaml)
			_, err := LoadFrom(dir)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("LoadFrom() error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadFrom_RequestTimeoutRaisedAboveAPITimeout(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "weather_api:\n  timeout: \"10s\"\nrequest:\n  timeout: \"5s\"\n")
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.RequestTimeout != 11*time.Second {
		t.Errorf("RequestTimeout = %v, want 11s", cfg.RequestTimeout)
	}
}

func TestLoadFrom_StaleTTLZeroDisables(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "cache:\n  stale_ttl: \"0\"\n  coalesce:\n    enabled: false\nreliability:\n  circuit_breaker:\n    enabled: false\n")
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.StaleCacheTTL != 0 {
		t.Errorf("StaleCacheTTL = %v, want 0", cfg.StaleCacheTTL)
	}
	if cfg.CoalesceEnabled || cfg.CircuitBreakerEnabled {
		t.Errorf("CoalesceEnabled = %v, CircuitBreakerEnabled = %v, want both false", cfg.CoalesceEnabled, cfg.CircuitBreakerEnabled)
	}
}

func TestLoadFrom_LifecycleAndForecast(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+`
lifecycle:
  overload_window: "30s"
  overload_threshold_pct: 90
  degraded_window: "60s"
  degraded_error_pct: 10
  degraded_retry_initial: "2m"
  degraded_retry_max: "15m"
forecast:
  settings_path: "data/user.json"
  default_units: Imperial
  default_country: "United States"
  city_table: "config/cities.yaml"
  timezone: "America/New_York"
metrics:
  tracked_locations: ["90210,US"]
`)
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.OverloadWindow != 30*time.Second || cfg.OverloadThresholdPct != 90 {
		t.Errorf("overload = (%v, %d), want (30s, 90)", cfg.OverloadWindow, cfg.OverloadThresholdPct)
	}
	if cfg.DegradedErrorPct != 10 || cfg.DegradedRetryInitial != 2*time.Minute || cfg.DegradedRetryMax != 15*time.Minute {
		t.Errorf("degraded = (%d, %v, %v)", cfg.DegradedErrorPct, cfg.DegradedRetryInitial, cfg.DegradedRetryMax)
	}
	if cfg.SettingsPath != "data/user.json" || cfg.DefaultUnits != models.UnitsImperial || cfg.DefaultCountry != "United States" {
		t.Errorf("forecast = (%q, %q, %q)", cfg.SettingsPath, cfg.DefaultUnits, cfg.DefaultCountry)
	}
	if cfg.CityTablePath != "config/cities.yaml" {
		t.Errorf("CityTablePath = %q", cfg.CityTablePath)
	}
	if cfg.Location.String() != "America/New_York" {
		t.Errorf("Location = %v, want America/New_York", cfg.Location)
	}
	if len(cfg.TrackedLocations) != 1 || cfg.TrackedLocations[0] != "90210,US" {
		t.Errorf("TrackedLocations = %v", cfg.TrackedLocations)
	}
}

func TestConfig_Queries(t *testing.T) {
	cfg := &Config{
		WeatherAPIKey:  "server-key",
		DefaultUnits:   models.UnitsImperial,
		DefaultCountry: "United States",
		WarmQueries: []WarmQuery{
			{Zip: "90210"},
			{Zip: "SW1A 1AA", Country: "United Kingdom", Units: "Metric"},
		},
	}
	got := cfg.Queries()
	want := []models.Query{
		{Zip: "90210", Country: "United States", APIKey: "server-key", Units: models.UnitsImperial},
		{Zip: "SW1A 1AA", Country: "United Kingdom", APIKey: "server-key", Units: models.UnitsMetric},
	}
	if len(got) != len(want) {
		t.Fatalf("Queries() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Queries()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLoad_UsesWorkingDirectory(t *testing.T) {
	clearEnv(t)
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, "server:\n  port: \"7070\"\n")
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "7070" {
		t.Errorf("ServerPort = %q, want 7070", cfg.ServerPort)
	}
}

// TestLoad_ProjectDevConfig verifies the checked-in config/dev.yaml loads.
func TestLoad_ProjectDevConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFrom(findProjectRoot(t))
	if err != nil {
		t.Fatalf("LoadFrom(project root) error = %v", err)
	}
	if cfg.WeatherAPIURL == "" || cfg.ServerPort == "" {
		t.Errorf("LoadFrom() did not populate config from config/dev.yaml")
	}
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "env-key")
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cfg.WeatherAPIKey != "env-key" || cfg.ServerPort != "8080" {
		t.Errorf("Default() = key %q port %q", cfg.WeatherAPIKey, cfg.ServerPort)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found")
		}
		dir = parent
	}
}
