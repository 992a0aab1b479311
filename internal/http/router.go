package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/zip-forecast/internal/observability"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	// Limiter guards the forecast and settings routes. Nil disables rate limiting.
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter wires h into a mux router. /health and /metrics bypass rate limiting
// and the request timeout so probes keep working under load.
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(opts.Limiter))
	api.Use(TimeoutMiddleware(opts.RequestTimeout))
	api.HandleFunc("/forecast", h.GetForecast).Methods(http.MethodGet)
	api.HandleFunc("/forecast/chart", h.GetChart).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.PutSettings).Methods(http.MethodPut)
	api.HandleFunc("/settings/load", h.PostSettingsLoad).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found")
	})
	return router
}
