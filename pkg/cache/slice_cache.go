// Package cache holds the per-maturity slices of one calibration run.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gregtusar/volsurface/pkg/metrics"
	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var ErrFetch = errors.New("slice fetch failed")

// FetchFunc loads the slice of one maturity.
type FetchFunc func(ctx context.Context, t models.Maturity) (*models.Slice, error)

// PreloadReport lists the outcome of a Preload call per maturity, ascending.
type PreloadReport struct {
	Loaded []models.Maturity
	Failed []models.Maturity
}

// SliceCache maps normalized maturities to slices. Entries are never evicted; a new
// calibration run replaces the whole cache.
type SliceCache struct {
	mu     sync.RWMutex
	slices map[models.Maturity]*models.Slice

	concurrency int
	limiter     *rate.Limiter
	logger      *logrus.Entry
	metrics     *metrics.Metrics
}

type Option func(*SliceCache)

// WithConcurrency caps the number of preload fetches in flight. Zero means no cap.
func WithConcurrency(n int) Option {
	return func(c *SliceCache) { c.concurrency = n }
}

// WithLimiter paces preload fetches.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *SliceCache) { c.limiter = l }
}

func WithLogger(l *logrus.Logger) Option {
	return func(c *SliceCache) { c.logger = l.WithField("component", "slice_cache") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *SliceCache) { c.metrics = m }
}

func New(opts ...Option) *SliceCache {
	c := &SliceCache{
		slices: make(map[models.Maturity]*models.Slice),
		logger: logrus.StandardLogger().WithField("component", "slice_cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Preload fetches one slice per distinct normalized maturity concurrently. A failed fetch
// is logged and leaves its key absent; it never stops the others. Preload returns once every
// fetch has settled.
func (c *SliceCache) Preload(ctx context.Context, maturities []float64, fetch FetchFunc) PreloadReport {
	keys := models.UniqueMaturities(maturities)

	var (
		g      errgroup.Group
		mu     sync.Mutex
		report PreloadReport
	)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}

	for _, t := range keys {
		t := t
		g.Go(func() error {
			slice, err := c.fetchOne(ctx, t, fetch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, t)
				c.metrics.PreloadFailed()
				c.logger.WithError(err).WithField("t", t.String()).Warn("Slice preload failed")
				return nil
			}
			c.store(t, slice)
			report.Loaded = append(report.Loaded, t)
			c.metrics.PreloadSucceeded()
			return nil
		})
	}
	_ = g.Wait()

	sortMaturities(report.Loaded)
	sortMaturities(report.Failed)
	c.logger.WithFields(logrus.Fields{
		"loaded": len(report.Loaded),
		"failed": len(report.Failed),
	}).Info("Slice preload settled")
	return report
}

// Get returns the slice of maturity, fetching and caching it when absent. A failed fetch
// leaves the cache untouched and returns an error wrapping ErrFetch.
func (c *SliceCache) Get(ctx context.Context, maturity float64, fetch FetchFunc) (*models.Slice, error) {
	t := models.Normalize(maturity)

	c.mu.RLock()
	slice, ok := c.slices[t]
	c.mu.RUnlock()
	if ok {
		c.metrics.CacheHit()
		return slice, nil
	}

	c.metrics.CacheMiss()
	slice, err := fetch(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%w: t=%s: %v", ErrFetch, t, err)
	}
	if slice == nil {
		return nil, fmt.Errorf("%w: t=%s: empty response", ErrFetch, t)
	}
	c.store(t, slice)
	return slice, nil
}

func (c *SliceCache) Has(maturity float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.slices[models.Normalize(maturity)]
	return ok
}

func (c *SliceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slices)
}

func (c *SliceCache) fetchOne(ctx context.Context, t models.Maturity, fetch FetchFunc) (*models.Slice, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	slice, err := fetch(ctx, t)
	if err != nil {
		return nil, err
	}
	if slice == nil {
		return nil, errors.New("empty response")
	}
	return slice, nil
}

func (c *SliceCache) store(t models.Maturity, slice *models.Slice) {
	slice.T = t
	c.mu.Lock()
	c.slices[t] = slice
	c.mu.Unlock()
}

func sortMaturities(ms []models.Maturity) {
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
}
