// Package calibration runs one calibration: fetch the model surface, draw it, preload the
// per-maturity slices and serve maturity selections from the cache.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gregtusar/volsurface/pkg/animator"
	"github.com/gregtusar/volsurface/pkg/cache"
	"github.com/gregtusar/volsurface/pkg/grid"
	"github.com/gregtusar/volsurface/pkg/metrics"
	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/gregtusar/volsurface/pkg/render"
	"github.com/gregtusar/volsurface/pkg/svi"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	ErrNoData        = errors.New("model returned no surface data")
	ErrIndex         = errors.New("maturity index out of range")
	ErrNotCalibrated = errors.New("no calibration has completed")
)

// SurfaceView is a view that can both be drawn and spun.
type SurfaceView interface {
	render.View
	animator.View
}

// Views are the four chart surfaces of the page.
type Views struct {
	Surface SurfaceView
	Slices  render.View
	Vols    render.View
	Prices  render.View
}

// Notifier receives progress meant for the user.
type Notifier interface {
	Status(text string, ready bool)
	Selector(state SelectorState)
}

type Options struct {
	OptionType         string
	Spin               animator.Spin
	Animate            bool
	PreloadConcurrency int
	PreloadRate        float64
}

func DefaultOptions() Options {
	return Options{
		OptionType: svi.OptionTypeCall,
		Spin:       animator.DefaultSpin(),
		Animate:    true,
	}
}

type Controller struct {
	client   svi.Client
	animator *animator.Animator
	views    Views
	notifier Notifier
	opts     Options
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	surface *render.SurfaceRenderer
	overlay *render.OverlayRenderer
	slices  *render.SliceRenderer

	mu       sync.Mutex
	symbol   string
	cache    *cache.SliceCache
	selector *Selector
}

func NewController(client svi.Client, anim *animator.Animator, views Views, notifier Notifier, opts Options, logger *logrus.Logger, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{
		client:   client,
		animator: anim,
		views:    views,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		surface:  render.NewSurfaceRenderer(),
		overlay:  render.NewOverlayRenderer(views.Slices),
		slices:   render.NewSliceRenderer(views.Vols, views.Prices),
	}
}

// Calibrate runs a full calibration for symbol. A failed surface fetch aborts the run
// before anything is drawn and leaves the previous run's state in place. A failure to
// show the first slice is returned after the run has otherwise completed.
func (c *Controller) Calibrate(ctx context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger.WithFields(logrus.Fields{"component": "calibration", "symbol": symbol})
	c.notify("Fetching Data ...", false)

	samples, err := c.client.AllSlices(ctx, symbol)
	if err != nil {
		c.metrics.Calibration("aborted")
		c.notify("", true)
		return fmt.Errorf("fetch surface for %s: %w", symbol, err)
	}
	if len(samples) == 0 {
		c.metrics.Calibration("aborted")
		c.notify("", true)
		return fmt.Errorf("%w for %s", ErrNoData, symbol)
	}

	ts := make([]float64, len(samples))
	for i, s := range samples {
		ts[i] = s.T
	}
	maturities := models.UniqueMaturities(ts)
	log.WithFields(logrus.Fields{
		"samples":    len(samples),
		"maturities": len(maturities),
	}).Info("Surface fetched")

	if err := c.drawSurface(ctx, samples); err != nil {
		c.metrics.Calibration("failed")
		c.notify("", true)
		return err
	}

	sliceCache := cache.New(c.cacheOptions()...)
	report := sliceCache.Preload(ctx, ts, c.fetcher(symbol))
	log.WithField("cached", sliceCache.Len()).Debug("Slices preloaded")
	if len(report.Failed) > 0 {
		log.WithField("failed", len(report.Failed)).Warn("Some slices will be fetched on demand")
	}

	c.symbol = symbol
	c.cache = sliceCache
	c.selector = NewSelector(maturities)
	if c.notifier != nil {
		c.notifier.Selector(c.selector.State())
	}

	first, err := c.cache.Get(ctx, maturities[0].Float(), c.fetcher(symbol))
	if err == nil {
		err = c.slices.Render(ctx, first)
	}
	c.notify("", true)
	if err != nil {
		c.metrics.Calibration("partial")
		log.WithError(err).Error("Failed to show first slice")
		return fmt.Errorf("show slice t=%s: %w", maturities[0], err)
	}

	c.metrics.Calibration("ok")
	log.Info("Calibration ready")
	return nil
}

// Select shows the slice at selector index i. On failure the slice views keep their
// previous content.
func (c *Controller) Select(ctx context.Context, i int) (models.Maturity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selector == nil {
		return 0, ErrNotCalibrated
	}
	t, err := c.selector.At(i)
	if err != nil {
		return 0, err
	}

	log := c.logger.WithFields(logrus.Fields{
		"component": "calibration",
		"symbol":    c.symbol,
		"t":         t.String(),
	})
	if !c.cache.Has(t.Float()) {
		log.Debug("Slice not preloaded, fetching on demand")
	}
	slice, err := c.cache.Get(ctx, t.Float(), c.fetcher(c.symbol))
	if err != nil {
		log.WithError(err).Error("Slice fetch failed")
		return t, err
	}
	if err := c.slices.Render(ctx, slice); err != nil {
		return t, err
	}

	c.selector.Move(i)
	if c.notifier != nil {
		c.notifier.Selector(c.selector.State())
	}
	return t, nil
}

func (c *Controller) SelectorState() (SelectorState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selector == nil {
		return SelectorState{}, false
	}
	return c.selector.State(), true
}

func (c *Controller) Symbol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.symbol
}

func (c *Controller) drawSurface(ctx context.Context, samples []models.Sample) error {
	g := grid.Gridify(grid.Normalized(samples))

	opts := render.DefaultSurfaceOptions()
	if c.opts.Animate {
		opts = render.AnimatedSurfaceOptions()
	}
	if _, err := c.surface.Render(ctx, c.views.Surface, g, opts); err != nil {
		return err
	}
	if c.opts.Animate && c.animator != nil {
		c.animator.Arm(ctx, c.views.Surface, c.opts.Spin)
	}
	return c.overlay.Render(ctx, samples)
}

func (c *Controller) fetcher(symbol string) cache.FetchFunc {
	optionType := c.opts.OptionType
	return func(ctx context.Context, t models.Maturity) (*models.Slice, error) {
		return c.client.OneSlice(ctx, symbol, t, optionType)
	}
}

func (c *Controller) cacheOptions() []cache.Option {
	opts := []cache.Option{
		cache.WithLogger(c.logger),
		cache.WithMetrics(c.metrics),
		cache.WithConcurrency(c.opts.PreloadConcurrency),
	}
	if c.opts.PreloadRate > 0 {
		burst := c.opts.PreloadConcurrency
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, cache.WithLimiter(rate.NewLimiter(rate.Limit(c.opts.PreloadRate), burst)))
	}
	return opts
}

func (c *Controller) notify(text string, ready bool) {
	if c.notifier != nil {
		c.notifier.Status(text, ready)
	}
}
