package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/zip-forecast/internal/models"
	"github.com/kjstillabower/zip-forecast/internal/observability"
)

// ReportLoader is implemented by the service layer. A successful Load populates the cache.
// Declared here to avoid a dependency cycle with the service package.
type ReportLoader interface {
	Load(ctx context.Context, q models.Query) (models.Report, error)
}

// CacheWarmer prefetches reports for a fixed set of queries.
type CacheWarmer struct {
	loader     ReportLoader
	logger     *zap.Logger
	runTimeout time.Duration
	scheduler  *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer that uses the given loader and logger.
func NewCacheWarmer(loader ReportLoader, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{loader: loader, logger: logger, runTimeout: 30 * time.Second}
}

// Warm loads every query concurrently. Returns the joined errors of failed queries.
func (w *CacheWarmer) Warm(ctx context.Context, queries []models.Query) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("queries", len(queries)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, q := range queries {
		q := q
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.loader.Load(ctx, q); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s,%s: %w", q.Zip, q.Country, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("queries", len(queries)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// Start schedules Warm every interval, with the first run immediately. An
// interval below one minute is raised to one minute. No-op without queries.
func (w *CacheWarmer) Start(queries []models.Query, interval time.Duration) error {
	if len(queries) == 0 {
		w.logger.Info("cache warming: no queries configured; nothing to schedule")
		return nil
	}
	if interval < time.Minute {
		interval = time.Minute
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.runTimeout)
		defer cancel()
		if err := w.Warm(ctx, queries); err != nil {
			w.logger.Warn("scheduled cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	w.scheduler = s
	s.StartAsync()
	return nil
}

// Stop cancels future warming runs.
func (w *CacheWarmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}
