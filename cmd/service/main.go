package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/zip-forecast/internal/cache"
	"github.com/kjstillabower/zip-forecast/internal/circuitbreaker"
	"github.com/kjstillabower/zip-forecast/internal/client"
	"github.com/kjstillabower/zip-forecast/internal/config"
	"github.com/kjstillabower/zip-forecast/internal/degraded"
	httphandler "github.com/kjstillabower/zip-forecast/internal/http"
	"github.com/kjstillabower/zip-forecast/internal/lifecycle"
	"github.com/kjstillabower/zip-forecast/internal/lookup"
	"github.com/kjstillabower/zip-forecast/internal/observability"
	"github.com/kjstillabower/zip-forecast/internal/overload"
	"github.com/kjstillabower/zip-forecast/internal/service"
	"github.com/kjstillabower/zip-forecast/internal/settings"
)

// app is the wired service: router plus the pieces that need shutting down.
type app struct {
	router    http.Handler
	service   *service.ForecastService
	warmer    *cache.CacheWarmer
	recoverer *degraded.Recoverer
	memcache  *cache.MemcachedCache
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if errors.Is(err, config.ErrConfigNotFound) {
		logger.Warn("no config file; using defaults", zap.Error(err))
		cfg, err = config.Default()
	}
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, stop)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}

	lifecycle.MarkReadyAfter(cfg.ReadyDelay)
	if len(cfg.WarmQueries) > 0 {
		if cfg.WeatherAPIKey == "" {
			logger.Warn("cache warming skipped: no server API key configured")
		} else if err := a.warmer.Start(cfg.Queries(), cfg.WarmInterval); err != nil {
			logger.Warn("cache warming not scheduled", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	a.warmer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if a.memcache != nil {
		if err := a.memcache.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newApp wires client, cache, service and router from cfg. The recoverer runs
// until ctx is done; shutdown is called when recovery gives up.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, shutdown func()) (*app, error) {
	weatherClient, err := client.NewOpenWeatherClientWithRetry(
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "weather_api",
			IsFailure:        client.IsUpstreamFault,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String())
				observability.SetCircuitBreakerStateGauge("weather_api", observability.CircuitBreakerStateValue(int(to)))
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		weatherClient.SetCircuitBreaker(cb)
		observability.SetCircuitBreakerStateGauge("weather_api", 0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	a := &app{}
	var cacheSvc cache.Cache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.StaleCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.memcache = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache(cfg.StaleCacheTTL)
		logger.Info("cache backend: in_memory")
	}

	var cities lookup.CityResolver = lookup.NoopCityResolver{}
	if cfg.CityTablePath != "" {
		table, err := lookup.LoadCityTable(cfg.CityTablePath)
		if err != nil {
			return nil, fmt.Errorf("city table: %w", err)
		}
		cities = table
		logger.Info("city table loaded", zap.String("path", cfg.CityTablePath), zap.Int("entries", table.Len()))
	}

	a.service = service.NewForecastService(weatherClient, cacheSvc, service.Options{
		TTL:             cfg.CacheTTL,
		StaleCacheTTL:   cfg.StaleCacheTTL,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Cities:          cities,
		Location:        cfg.Location,
	})
	a.warmer = cache.NewCacheWarmer(a.service, logger)

	a.recoverer = &degraded.Recoverer{
		Validate: func(ctx context.Context) error {
			if cfg.WeatherAPIKey == "" {
				return errors.New("no server API key to probe with")
			}
			return weatherClient.ValidateAPIKey(ctx, cfg.WeatherAPIKey)
		},
		Initial:     cfg.DegradedRetryInitial,
		Max:         cfg.DegradedRetryMax,
		OnExhausted: shutdown,
		Logger:      logger,
	}
	a.recoverer.Start(ctx)

	healthConfig := &httphandler.HealthConfig{
		Overload: overload.Policy{
			RPS:          cfg.RateLimitRPS,
			Window:       cfg.OverloadWindow,
			ThresholdPct: cfg.OverloadThresholdPct,
		},
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		Recoverer:        a.recoverer,
		APIKey:           cfg.WeatherAPIKey,
	}
	if a.memcache != nil {
		healthConfig.CachePing = a.memcache.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	store := settings.NewStore(cfg.SettingsPath)
	if store.Exists() {
		if _, err := store.Load(); err != nil {
			logger.Warn("saved settings ignored", zap.String("path", store.Path()), zap.Error(err))
		}
	}

	handler := httphandler.NewHandler(a.service, weatherClient, store, httphandler.QueryDefaults{
		APIKey:  cfg.WeatherAPIKey,
		Country: cfg.DefaultCountry,
		Units:   cfg.DefaultUnits,
	}, healthConfig, logger)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	a.router = httphandler.NewRouter(handler, httphandler.RouterOptions{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	return a, nil
}
