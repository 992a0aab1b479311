// Package service loads forecast reports: query validation, country lookup,
// cache-aside upstream fetches with coalescing and stale fallback, and the
// aggregation into daily buckets and summaries.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/zip-forecast/internal/cache"
	"github.com/kjstillabower/zip-forecast/internal/client"
	"github.com/kjstillabower/zip-forecast/internal/forecast"
	"github.com/kjstillabower/zip-forecast/internal/lookup"
	"github.com/kjstillabower/zip-forecast/internal/models"
	"github.com/kjstillabower/zip-forecast/internal/observability"
	"github.com/kjstillabower/zip-forecast/internal/validation"
)

// Options configures a ForecastService. Zero values select the defaults noted
// on each field.
type Options struct {
	TTL             time.Duration // cache TTL for fresh reports (default 10m)
	StaleCacheTTL   time.Duration // max age of a stale report served on upstream failure (0 = disabled)
	CoalesceEnabled bool
	CoalesceTimeout time.Duration // required when CoalesceEnabled

	Countries lookup.CountryResolver // default: English CLDR names
	Cities    lookup.CityResolver    // default: none, the API's city name is used
	Location  *time.Location         // where calendar days begin (default time.Local)
	Now       func() time.Time
}

// ForecastService orchestrates forecast loads using the cache-aside pattern
// with upstream API fallback.
type ForecastService struct {
	client          client.WeatherClient
	cache           cache.Cache
	ttl             time.Duration
	staleCacheTTL   time.Duration
	countries       lookup.CountryResolver
	cities          lookup.CityResolver
	location        *time.Location
	now             func() time.Time
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil if disabled
}

// NewForecastService creates a ForecastService with the provided dependencies.
func NewForecastService(c client.WeatherClient, ch cache.Cache, opts Options) *ForecastService {
	s := &ForecastService{
		client:          c,
		cache:           ch,
		ttl:             opts.TTL,
		staleCacheTTL:   opts.StaleCacheTTL,
		countries:       opts.Countries,
		cities:          opts.Cities,
		location:        opts.Location,
		now:             opts.Now,
		stampedeTracker: newStampedeTracker(),
	}
	if s.ttl <= 0 {
		s.ttl = 10 * time.Minute
	}
	if s.countries == nil {
		s.countries = lookup.NewDisplayCountryResolver()
	}
	if s.cities == nil {
		s.cities = lookup.NoopCityResolver{}
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.CoalesceEnabled && opts.CoalesceTimeout > 0 {
		s.coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return s
}

// Load returns the forecast report for q. Errors are *LoadError.
func (s *ForecastService) Load(ctx context.Context, q models.Query) (models.Report, error) {
	start := time.Now()
	report, cached, err := s.load(ctx, q)

	result := "success"
	if err != nil {
		result = string(KindOf(err))
	}
	observability.ForecastLoadsTotal.WithLabelValues(result).Inc()
	observability.ForecastLoadDurationSeconds.WithLabelValues(strconv.FormatBool(cached)).Observe(time.Since(start).Seconds())
	return report, err
}

func (s *ForecastService) load(ctx context.Context, q models.Query) (models.Report, bool, error) {
	logger := observability.LoggerFromContext(ctx)

	q, err := validation.ValidateQuery(q)
	if err != nil {
		return models.Report{}, false, &LoadError{Kind: KindValidation, Err: err}
	}
	code, err := s.countries.ResolveCountryCode(q.Country)
	if err != nil {
		return models.Report{}, false, &LoadError{Kind: KindLocation, Err: err}
	}
	q.CountryCode = code

	location := q.Key()
	key := q.CacheKey()
	observability.RecordForecastQuery(location)

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.String("location", location), zap.Error(err))
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
		logger.Debug("cache hit", zap.String("location", location))
		return cached, true, nil
	}

	concurrentMisses, endMiss := s.stampedeTracker.begin(key)
	defer endMiss()
	locLabel := observability.MetricLocationLabel(location)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(locLabel).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(locLabel).Observe(float64(concurrentMisses))
	}
	logger.Debug("cache miss, fetching upstream", zap.String("location", location))

	var report models.Report
	var upstreamErr error
	if s.coalescer != nil {
		waitStart := time.Now()
		var shared bool
		report, shared, upstreamErr = s.coalescer.Do(ctx, key, func(ctx context.Context) (models.Report, error) {
			return s.fetch(ctx, q)
		})
		if shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(locLabel).Inc()
			observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
		}
	} else {
		report, upstreamErr = s.fetch(ctx, q)
	}

	if upstreamErr != nil {
		kind := KindOf(upstreamErr)
		if kind == KindNetwork && s.staleCacheTTL > 0 {
			stale, ok, staleErr := s.cache.GetStale(ctx, key, s.staleCacheTTL)
			if staleErr == nil && ok {
				staleAge := s.now().Sub(stale.FetchedAt)
				observability.StaleCacheServesTotal.WithLabelValues(locLabel).Inc()
				observability.StaleCacheAgeSeconds.Observe(staleAge.Seconds())
				logger.Info("serving stale cache", zap.String("location", location), zap.Duration("age", staleAge), zap.Error(upstreamErr))
				stale.Stale = true
				return stale, true, nil
			}
		}
		logger.Warn("forecast load failed", zap.String("location", location), zap.String("kind", string(kind)), zap.Error(upstreamErr))
		var le *LoadError
		if errors.As(upstreamErr, &le) {
			return models.Report{}, false, le
		}
		return models.Report{}, false, &LoadError{Kind: kind, Err: fmt.Errorf("load forecast for %s: %w", location, upstreamErr)}
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, report, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("location", location), zap.Error(setErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	logger.Debug("forecast loaded", zap.String("location", location), zap.Int("days", len(report.Buckets)))
	return report, false, nil
}

// fetch calls the upstream API and builds a fresh report for a validated query.
func (s *ForecastService) fetch(ctx context.Context, q models.Query) (models.Report, error) {
	coords, err := s.client.Geocode(ctx, q.APIKey, q.Zip, q.CountryCode)
	if err != nil {
		return models.Report{}, s.explainGeocodeFailure(ctx, q, err)
	}

	current, err := s.client.GetCurrentWeather(ctx, q.APIKey, coords, q.Units)
	if err != nil {
		return models.Report{}, fmt.Errorf("current weather: %w", err)
	}
	if city, region, ok := s.cities.ResolveCity(q.Zip); ok {
		current.City = city
		if region != "" {
			current.City = city + ", " + region
		}
	} else if current.City == "" {
		current.City = coords.Name
	}
	if current.Country == "" {
		current.Country = q.CountryCode
	}

	entries, err := s.client.GetForecast(ctx, q.APIKey, coords, q.Units)
	if err != nil {
		return models.Report{}, fmt.Errorf("forecast: %w", err)
	}

	today := s.now().In(s.location)
	buckets := forecast.Bucket(forecast.NowSample(current, s.location), entries, today)
	summaries, err := forecast.Summarize(buckets)
	if err != nil {
		return models.Report{}, fmt.Errorf("summarize: %w", err)
	}
	forecast.DecorateSummaries(summaries, current)
	observability.ForecastBucketsBuilt.Observe(float64(len(buckets)))

	q.APIKey = ""
	return models.Report{
		Query:     q,
		Current:   current,
		Icon:      forecast.Icon(current.Condition, current.Timestamp, current.Sunrise, current.Sunset, float64(current.CloudPercent)),
		ExtraIcon: forecast.ExtraIcon(current.Condition, current.FeelsLike, q.Units),
		Buckets:   buckets,
		DayLabels: forecast.DayLabels(buckets),
		Summaries: summaries,
		FetchedAt: s.now(),
	}, nil
}

// explainGeocodeFailure tells a rejected API key from an unknown postal code.
// The geocoding endpoint answers 404 for both on some accounts, so a probe
// with a known-good postal code decides.
func (s *ForecastService) explainGeocodeFailure(ctx context.Context, q models.Query, err error) error {
	place := q.Zip + "," + q.CountryCode
	if !errors.Is(err, client.ErrLocationNotFound) && !errors.Is(err, client.ErrInvalidAPIKey) {
		return fmt.Errorf("geocode %s: %w", place, err)
	}
	probeErr := s.client.ValidateAPIKey(ctx, q.APIKey)
	switch {
	case errors.Is(probeErr, client.ErrInvalidAPIKey):
		return &LoadError{Kind: KindAPIKey, Err: fmt.Errorf("geocode %s: %w", place, probeErr)}
	case probeErr == nil:
		return &LoadError{Kind: KindLocation, Err: fmt.Errorf("geocode %s: %w", place, client.ErrLocationNotFound)}
	default:
		observability.LoggerFromContext(ctx).Debug("api key probe inconclusive", zap.Error(probeErr))
		return fmt.Errorf("geocode %s: %w", place, err)
	}
}

// Chart returns the first-day chart series of report for the named metric
// ("temperature" or "precipitation").
func (s *ForecastService) Chart(report models.Report, metric string) (forecast.Series, error) {
	m, err := forecast.ParseMetric(metric)
	if err != nil {
		return forecast.Series{}, &LoadError{Kind: KindValidation, Err: err}
	}
	series, err := forecast.Chart(report.Buckets, m)
	if err != nil {
		return forecast.Series{}, asLoadError(err)
	}
	return series, nil
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return "timeout"
	}
	if nerr != nil {
		return "connection"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
