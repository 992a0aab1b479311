package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/zip-forecast/internal/circuitbreaker"
	"github.com/kjstillabower/zip-forecast/internal/models"
	"github.com/kjstillabower/zip-forecast/internal/observability"
)

// WeatherClient is the upstream weather API. Every call carries the API key
// of the query it serves.
type WeatherClient interface {
	Geocode(ctx context.Context, apiKey, zip, countryCode string) (models.Coordinates, error)
	GetCurrentWeather(ctx context.Context, apiKey string, coords models.Coordinates, units models.Units) (models.CurrentWeather, error)
	GetForecast(ctx context.Context, apiKey string, coords models.Coordinates, units models.Units) ([]models.RawForecastEntry, error)
	ValidateAPIKey(ctx context.Context, apiKey string) error
}

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrLocationNotFound  = errors.New("location not found")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
)

// Endpoint paths relative to the API base URL.
const (
	geocodePath  = "geo/1.0/zip"
	currentPath  = "data/2.5/weather"
	forecastPath = "data/2.5/forecast"
)

// probeZip is a postal code known to resolve; used to tell a bad key from a bad zip.
const probeZip = "10001,US"

type OpenWeatherClient struct {
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

func NewOpenWeatherClient(baseURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithRetry(baseURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewOpenWeatherClientWithRetry(baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenWeatherClient, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid API base URL %q", baseURL)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}
	return &OpenWeatherClient{
		baseURL:        strings.TrimRight(baseURL, "/") + "/",
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wraps every upstream attempt in cb. nil disables it.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type geocodeResponse struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
}

type conditionBlock struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type currentResponse struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []conditionBlock `json:"weather"`
	Clouds  struct {
		All int `json:"all"`
	} `json:"clouds"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Name string `json:"name"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []conditionBlock `json:"weather"`
		Clouds  struct {
			All int `json:"all"`
		} `json:"clouds"`
		Pop float64 `json:"pop"`
	} `json:"list"`
}

// Geocode resolves a postal code within a country to coordinates.
func (c *OpenWeatherClient) Geocode(ctx context.Context, apiKey, zip, countryCode string) (models.Coordinates, error) {
	params := url.Values{}
	params.Set("zip", zip+","+countryCode)
	var resp geocodeResponse
	if err := c.get(ctx, "geocode", geocodePath, apiKey, params, &resp); err != nil {
		return models.Coordinates{}, err
	}
	return models.Coordinates{Lat: resp.Lat, Lon: resp.Lon, Name: resp.Name, Country: resp.Country}, nil
}

// GetCurrentWeather fetches the current reading at coords in the given units.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, apiKey string, coords models.Coordinates, units models.Units) (models.CurrentWeather, error) {
	var resp currentResponse
	if err := c.get(ctx, "current", currentPath, apiKey, coordParams(coords, units), &resp); err != nil {
		return models.CurrentWeather{}, err
	}
	if len(resp.Weather) == 0 {
		return models.CurrentWeather{}, fmt.Errorf("%w: current weather has no conditions", ErrMalformedResponse)
	}
	return models.CurrentWeather{
		Temperature:  models.Round(resp.Main.Temp),
		FeelsLike:    models.Round(resp.Main.FeelsLike),
		Condition:    resp.Weather[0].Main,
		Description:  resp.Weather[0].Description,
		Humidity:     resp.Main.Humidity,
		CloudPercent: resp.Clouds.All,
		City:         resp.Name,
		Country:      resp.Sys.Country,
		Timestamp:    time.Unix(resp.Dt, 0),
		Sunrise:      time.Unix(resp.Sys.Sunrise, 0),
		Sunset:       time.Unix(resp.Sys.Sunset, 0),
	}, nil
}

// GetForecast fetches the 3-hour step forecast at coords, in upstream order.
func (c *OpenWeatherClient) GetForecast(ctx context.Context, apiKey string, coords models.Coordinates, units models.Units) ([]models.RawForecastEntry, error) {
	var resp forecastResponse
	if err := c.get(ctx, "forecast", forecastPath, apiKey, coordParams(coords, units), &resp); err != nil {
		return nil, err
	}
	entries := make([]models.RawForecastEntry, 0, len(resp.List))
	for i, item := range resp.List {
		if len(item.Weather) == 0 {
			return nil, fmt.Errorf("%w: forecast entry %d has no conditions", ErrMalformedResponse, i)
		}
		entries = append(entries, models.RawForecastEntry{
			Timestamp:                item.Dt,
			Condition:                item.Weather[0].Main,
			CloudPercent:             item.Clouds.All,
			Temperature:              item.Main.Temp,
			PrecipitationProbability: item.Pop,
		})
	}
	return entries, nil
}

func coordParams(coords models.Coordinates, units models.Units) url.Values {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	params.Set("units", string(units))
	return params
}

// get performs a GET with retries and decodes the JSON body into out.
func (c *OpenWeatherClient) get(ctx context.Context, endpoint, path, apiKey string, params url.Values, out interface{}) error {
	if err := checkAPIKey(apiKey); err != nil {
		return err
	}
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.WithLabelValues(endpoint).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var body []byte
		call := func() error {
			var err error
			body, err = c.callAPI(ctx, endpoint, path, apiKey, params)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("%w: parse %s response: %v", ErrMalformedResponse, endpoint, err)
			}
			return nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func checkAPIKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	return nil
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, endpoint, path, apiKey string, params url.Values) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, apiKey, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	corrID := extractCorrelationID(ctx)
	if corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func (c *OpenWeatherClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, path, apiKey string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("appid", apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenWeatherClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value(observability.CorrelationIDKey); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues a geocode for a postal code known to exist. Success
// means the key works; ErrInvalidAPIKey means it does not.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context, apiKey string) error {
	if err := checkAPIKey(apiKey); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("zip", probeZip)
	req, err := c.buildRequest(ctx, geocodePath, apiKey, params)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
