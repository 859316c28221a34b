package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gregtusar/volsurface/pkg/metrics"
	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[models.Maturity]int
	fail  map[models.Maturity]bool
	delay time.Duration
}

func newFakeFetcher(fail ...models.Maturity) *fakeFetcher {
	f := &fakeFetcher{calls: map[models.Maturity]int{}, fail: map[models.Maturity]bool{}}
	for _, t := range fail {
		f.fail[t] = true
	}
	return f
}

func (f *fakeFetcher) fetch(ctx context.Context, t models.Maturity) (*models.Slice, error) {
	f.mu.Lock()
	f.calls[t]++
	fail := f.fail[t]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fail {
		return nil, errors.New("upstream unavailable")
	}
	return &models.Slice{T: t, Strikes: []float64{100}, LogMoneyness: []float64{0},
		BSMid: []float64{5}, BSEst: []float64{5}, WObs: []float64{t.Float() * 0.04}, WEst: []float64{t.Float() * 0.04}}, nil
}

func (f *fakeFetcher) count(t models.Maturity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[t]
}

func TestPreloadToleratesPartialFailure(t *testing.T) {
	f := newFakeFetcher(0.25)
	c := New()

	report := c.Preload(context.Background(), []float64{0.1, 0.25, 0.5}, f.fetch)

	assert.Equal(t, []models.Maturity{0.1, 0.5}, report.Loaded)
	assert.Equal(t, []models.Maturity{0.25}, report.Failed)
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Has(0.1))
	assert.True(t, c.Has(0.5))
	assert.False(t, c.Has(0.25))

	f.fail[0.25] = false
	before := f.count(0.25)
	slice, err := c.Get(context.Background(), 0.25, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, models.Maturity(0.25), slice.T)
	assert.Equal(t, before+1, f.count(0.25))
	assert.True(t, c.Has(0.25))
}

func TestPreloadDeduplicatesNormalizedKeys(t *testing.T) {
	f := newFakeFetcher()
	c := New()

	c.Preload(context.Background(), []float64{0.1, 0.1 + 1e-9, 0.1 - 2e-7}, f.fetch)
	assert.Equal(t, 1, f.count(0.1))
	assert.Equal(t, 1, c.Len())
}

func TestPreloadRunsConcurrently(t *testing.T) {
	f := newFakeFetcher()
	f.delay = 50 * time.Millisecond
	c := New()

	start := time.Now()
	c.Preload(context.Background(), []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}, f.fetch)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, 8, c.Len())
}

func TestPreloadConcurrencyLimit(t *testing.T) {
	var inFlight, peak int32
	fetch := func(ctx context.Context, t models.Maturity) (*models.Slice, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &models.Slice{T: t}, nil
	}

	c := New(WithConcurrency(2))
	c.Preload(context.Background(), []float64{0.1, 0.2, 0.3, 0.4, 0.5}, fetch)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 5, c.Len())
}

func TestGetHitDoesNotFetch(t *testing.T) {
	f := newFakeFetcher()
	c := New(WithMetrics(metrics.NewMetrics()))
	c.Preload(context.Background(), []float64{0.5}, f.fetch)

	_, err := c.Get(context.Background(), 0.5000001, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(0.5))
}

func TestGetFailureLeavesCacheUntouched(t *testing.T) {
	f := newFakeFetcher(0.75)
	c := New()

	slice, err := c.Get(context.Background(), 0.75, f.fetch)
	assert.Nil(t, slice)
	assert.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, 0, c.Len())
}

func TestGetRejectsNilSlice(t *testing.T) {
	c := New()
	_, err := c.Get(context.Background(), 0.3, func(context.Context, models.Maturity) (*models.Slice, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrFetch)
	assert.False(t, c.Has(0.3))
}

func TestPreloadEmpty(t *testing.T) {
	report := New().Preload(context.Background(), nil, newFakeFetcher().fetch)
	assert.Empty(t, report.Loaded)
	assert.Empty(t, report.Failed)
}

func TestPreloadCancelledContextFailsLimitedFetches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(WithLimiter(rate.NewLimiter(rate.Limit(1), 1)))
	report := c.Preload(ctx, []float64{0.1, 0.2}, newFakeFetcher().fetch)
	assert.Len(t, report.Failed, 2)
	assert.Equal(t, 0, c.Len())
}
