package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/zip-forecast/internal/client"
	"github.com/kjstillabower/zip-forecast/internal/degraded"
	"github.com/kjstillabower/zip-forecast/internal/lifecycle"
	"github.com/kjstillabower/zip-forecast/internal/models"
	"github.com/kjstillabower/zip-forecast/internal/observability"
	"github.com/kjstillabower/zip-forecast/internal/overload"
	"github.com/kjstillabower/zip-forecast/internal/service"
	"github.com/kjstillabower/zip-forecast/internal/settings"
)

// APIKeyHeader carries a per-request weather API key.
const APIKeyHeader = "X-Weather-API-Key"

// maxSettingsBody bounds PUT /settings payloads.
const maxSettingsBody = 4 << 10

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	Overload         overload.Policy
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Recoverer, when set, is notified whenever the error rate breaches the threshold.
	Recoverer *degraded.Recoverer
	// APIKey is the server key probed on every health check. Empty skips the probe.
	APIKey string
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// QueryDefaults fills in query fields a request leaves out.
type QueryDefaults struct {
	APIKey  string
	Country string
	Units   models.Units
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	forecasts        *service.ForecastService
	client           client.WeatherClient
	settings         *settings.Store
	defaults         QueryDefaults
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	forecasts *service.ForecastService,
	client client.WeatherClient,
	store *settings.Store,
	defaults QueryDefaults,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.Units == "" {
		defaults.Units = models.UnitsMetric
	}
	return &Handler{
		forecasts:    forecasts,
		client:       client,
		settings:     store,
		defaults:     defaults,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// queryFromRequest builds a query from ?zip=&country=&units= and the API key header.
func (h *Handler) queryFromRequest(r *http.Request) models.Query {
	v := r.URL.Query()
	q := models.Query{
		Zip:     v.Get("zip"),
		Country: v.Get("country"),
		APIKey:  strings.TrimSpace(r.Header.Get(APIKeyHeader)),
		Units:   models.Units(strings.ToLower(strings.TrimSpace(v.Get("units")))),
	}
	if strings.TrimSpace(q.Country) == "" {
		q.Country = h.defaults.Country
	}
	if q.APIKey == "" {
		q.APIKey = h.defaults.APIKey
	}
	if q.Units == "" {
		q.Units = h.defaults.Units
	}
	return q
}

// load runs a forecast load and feeds the outcome into the degraded tracker.
// Only upstream faults count as errors.
func (h *Handler) load(ctx context.Context, q models.Query) (models.Report, error) {
	report, err := h.forecasts.Load(ctx, q)
	if err != nil && service.KindOf(err) == service.KindNetwork {
		degraded.RecordError()
		h.checkDegraded()
		return report, err
	}
	degraded.RecordSuccess()
	return report, err
}

func (h *Handler) checkDegraded() {
	if h.healthConfig == nil || h.healthConfig.Recoverer == nil {
		return
	}
	if breached, _ := degraded.Breached(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct); breached {
		h.healthConfig.Recoverer.Notify()
	}
}

// GetForecast handles GET /forecast.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	report, err := h.load(r.Context(), h.queryFromRequest(r))
	if err != nil {
		writeLoadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetChart handles GET /forecast/chart. The metric defaults to temperature.
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	report, err := h.load(r.Context(), h.queryFromRequest(r))
	if err != nil {
		writeLoadError(w, r, err)
		return
	}
	series, err := h.forecasts.Chart(report, r.URL.Query().Get("metric"))
	if err != nil {
		writeLoadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// GetSettings handles GET /settings. The API key is masked.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.settings.Current()
	if !ok {
		var err error
		if s, err = h.settings.Load(); err != nil {
			writeSettingsError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.Masked())
}

// PutSettings handles PUT /settings: validate and save the default query.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var s settings.Settings
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSettingsBody))
	if err := dec.Decode(&s); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a settings object")
		return
	}
	if err := h.settings.Save(s); err != nil {
		observability.SettingsSavesTotal.WithLabelValues("error").Inc()
		writeSettingsError(w, r, err)
		return
	}
	observability.SettingsSavesTotal.WithLabelValues("success").Inc()
	observability.LoggerFromContext(r.Context()).Info("settings saved", zap.String("path", h.settings.Path()), zap.String("zip", s.Zip))
	writeJSON(w, http.StatusOK, s.Masked())
}

// PostSettingsLoad handles POST /settings/load: read the saved settings and
// return the report for them.
func (h *Handler) PostSettingsLoad(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Load()
	if err != nil {
		writeSettingsError(w, r, err)
		return
	}
	report, err := h.load(r.Context(), s.Query())
	if err != nil {
		writeLoadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	apiKey     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy", "apiKey": result.apiKey}
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "zip-forecast",
		"version":   "dev",
		"phase":     lifecycle.Current().String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > API key invalid > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	switch lifecycle.Current() {
	case lifecycle.ShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", "unknown"}
	case lifecycle.Starting:
		return healthResult{"starting", http.StatusServiceUnavailable, "ready_delay", "unknown"}
	}

	apiKey := "not_configured"
	if h.healthConfig != nil && h.healthConfig.APIKey != "" {
		if err := h.client.ValidateAPIKey(ctx, h.healthConfig.APIKey); err != nil {
			if errors.Is(err, client.ErrInvalidAPIKey) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid", "invalid"}
			}
			apiKey = "unverified"
		} else {
			apiKey = "valid"
		}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, "", apiKey}
	}
	if h.healthConfig.Overload.Overloaded() {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold", apiKey}
	}
	if breached, _ := degraded.Breached(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct); breached {
		if h.healthConfig.Recoverer != nil {
			h.healthConfig.Recoverer.Notify()
		}
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", apiKey}
	}
	return healthResult{"healthy", http.StatusOK, "", apiKey}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeLoadError maps a forecast load failure to its HTTP status and error code.
func writeLoadError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	switch service.KindOf(err) {
	case service.KindValidation:
		var le *service.LoadError
		msg := "invalid request"
		if errors.As(err, &le) && le.Err != nil {
			msg = le.Err.Error()
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", msg)
	case service.KindLocation:
		writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", "Location not found")
	case service.KindAPIKey:
		writeError(w, r, http.StatusUnauthorized, "INVALID_API_KEY", "Weather API key was rejected")
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch forecast data")
	}
	logger.Debug("forecast load error", zap.Error(err))
}

// writeSettingsError maps settings file failures.
func writeSettingsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		writeError(w, r, http.StatusNotFound, "SETTINGS_NOT_FOUND", "No saved settings")
	case errors.Is(err, settings.ErrMissingFields), errors.Is(err, settings.ErrInvalidSettings):
		writeError(w, r, http.StatusUnprocessableEntity, "SETTINGS_INVALID", strings.TrimPrefix(err.Error(), "settings: "))
	default:
		observability.LoggerFromContext(r.Context()).Error("settings io", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unable to access settings")
	}
}
