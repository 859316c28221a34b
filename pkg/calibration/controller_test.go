package calibration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gregtusar/volsurface/pkg/animator"
	"github.com/gregtusar/volsurface/pkg/cache"
	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/gregtusar/volsurface/pkg/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu        sync.Mutex
	samples   []models.Sample
	allErr    error
	sliceErr  map[models.Maturity]int // remaining failures per maturity
	sliceHits map[models.Maturity]int
}

func newFakeClient(samples []models.Sample) *fakeClient {
	return &fakeClient{
		samples:   samples,
		sliceErr:  map[models.Maturity]int{},
		sliceHits: map[models.Maturity]int{},
	}
}

func (f *fakeClient) AllSlices(ctx context.Context, symbol string) ([]models.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allErr != nil {
		return nil, f.allErr
	}
	return f.samples, nil
}

func (f *fakeClient) OneSlice(ctx context.Context, symbol string, t models.Maturity, optionType string) (*models.Slice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sliceHits[t]++
	if f.sliceErr[t] != 0 {
		if f.sliceErr[t] > 0 {
			f.sliceErr[t]--
		}
		return nil, errors.New("fit failed")
	}
	return &models.Slice{
		T:            t,
		Strikes:      []float64{95, 105},
		LogMoneyness: []float64{-0.05, 0.05},
		BSMid:        []float64{7, 2},
		BSEst:        []float64{7.1, 2.1},
		WObs:         []float64{0.04 * t.Float(), 0.05 * t.Float()},
		WEst:         []float64{0.041 * t.Float(), 0.049 * t.Float()},
	}, nil
}

func (f *fakeClient) hits(t models.Maturity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sliceHits[t]
}

type fakeView struct {
	id string

	mu       sync.Mutex
	figures  []render.Figure
	handlers []func(models.ViewEvent)
}

func (v *fakeView) ID() string { return v.id }

func (v *fakeView) React(ctx context.Context, fig render.Figure) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.figures = append(v.figures, fig)
	return nil
}

func (v *fakeView) Relayout(ctx context.Context, update render.Layout) error { return nil }

func (v *fakeView) Subscribe(h func(models.ViewEvent)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handlers = append(v.handlers, h)
	return func() {}
}

func (v *fakeView) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.figures)
}

func (v *fakeView) last() render.Figure {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.figures[len(v.figures)-1]
}

type fakeNotifier struct {
	mu        sync.Mutex
	statuses  []string
	ready     bool
	selectors []SelectorState
}

func (n *fakeNotifier) Status(text string, ready bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, text)
	n.ready = ready
}

func (n *fakeNotifier) Selector(s SelectorState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.selectors = append(n.selectors, s)
}

type fixture struct {
	client   *fakeClient
	views    Views
	surface  *fakeView
	slices   *fakeView
	vols     *fakeView
	prices   *fakeView
	notifier *fakeNotifier
	ctrl     *Controller
}

func dataset() []models.Sample {
	return []models.Sample{
		{K: -0.1, T: 0.1, W: 0.02},
		{K: 0.0, T: 0.1, W: 0.03},
		{K: -0.1, T: 0.25, W: 0.035},
		{K: 0.0, T: 0.25, W: 0.045},
		{K: -0.1, T: 0.5, W: 0.05},
		{K: 0.0, T: 0.5, W: 0.06},
	}
}

func newFixture(samples []models.Sample, anim *animator.Animator, opts Options) *fixture {
	f := &fixture{
		client:   newFakeClient(samples),
		surface:  &fakeView{id: render.ViewSurface},
		slices:   &fakeView{id: render.ViewSlices},
		vols:     &fakeView{id: render.ViewVols},
		prices:   &fakeView{id: render.ViewPrices},
		notifier: &fakeNotifier{},
	}
	f.views = Views{Surface: f.surface, Slices: f.slices, Vols: f.vols, Prices: f.prices}
	f.ctrl = NewController(f.client, anim, f.views, f.notifier, opts, nil, nil)
	return f
}

func staticOptions() Options {
	opts := DefaultOptions()
	opts.Animate = false
	return opts
}

func TestCalibrateRendersEverything(t *testing.T) {
	f := newFixture(dataset(), nil, staticOptions())

	require.NoError(t, f.ctrl.Calibrate(context.Background(), "AMZN"))

	surface := f.surface.last().Data[0]
	assert.Equal(t, []float64{0.1, 0.25, 0.5}, surface["x"])
	assert.Equal(t, []float64{-0.1, 0.0}, surface["y"])
	assert.Equal(t, "Portland", surface["colorscale"])

	assert.Len(t, f.slices.last().Data, 4)
	assert.Equal(t, 1, f.vols.count())
	assert.Equal(t, 1, f.prices.count())
	assert.Equal(t, "SVI Slice at t=0.1000", f.vols.last().Layout["title"])

	state, ok := f.ctrl.SelectorState()
	require.True(t, ok)
	assert.Equal(t, 2, state.Max)
	assert.Equal(t, "0.10", state.MinLabel)
	assert.Equal(t, "0.50", state.MaxLabel)

	assert.Equal(t, []string{"Fetching Data ...", ""}, f.notifier.statuses)
	assert.True(t, f.notifier.ready)
	assert.Equal(t, "AMZN", f.ctrl.Symbol())

	for _, tm := range []models.Maturity{0.1, 0.25, 0.5} {
		assert.Equal(t, 1, f.client.hits(tm), "maturity %s fetched once", tm)
	}
}

func TestCalibrateAbortsOnSurfaceFetchFailure(t *testing.T) {
	f := newFixture(dataset(), nil, staticOptions())
	require.NoError(t, f.ctrl.Calibrate(context.Background(), "AMZN"))
	surfaceFigures := f.surface.count()

	f.client.allErr = errors.New("model down")
	err := f.ctrl.Calibrate(context.Background(), "TSLA")
	require.Error(t, err)

	assert.Equal(t, surfaceFigures, f.surface.count(), "surface untouched")
	assert.Equal(t, "AMZN", f.ctrl.Symbol(), "previous run kept")

	_, err = f.ctrl.Select(context.Background(), 2)
	assert.NoError(t, err)
}

func TestCalibrateEmptyDataset(t *testing.T) {
	f := newFixture(nil, nil, staticOptions())
	err := f.ctrl.Calibrate(context.Background(), "AMZN")
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 0, f.surface.count())
	_, ok := f.ctrl.SelectorState()
	assert.False(t, ok)
}

func TestSelectFallsBackAfterFailedPreload(t *testing.T) {
	f := newFixture(dataset(), nil, staticOptions())
	f.client.sliceErr[0.25] = 1

	require.NoError(t, f.ctrl.Calibrate(context.Background(), "AMZN"))
	assert.Equal(t, 1, f.client.hits(0.25))

	tm, err := f.ctrl.Select(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.Maturity(0.25), tm)
	assert.Equal(t, 2, f.client.hits(0.25), "exactly one fallback fetch")
	assert.Equal(t, "SVI Slice at t=0.2500", f.vols.last().Layout["title"])

	_, err = f.ctrl.Select(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, f.client.hits(0.25), "served from cache")

	state, _ := f.ctrl.SelectorState()
	assert.Equal(t, 1, state.Index)
	assert.Equal(t, "0.250000", state.ValueLabel)
}

func TestSelectFailureLeavesViewUnchanged(t *testing.T) {
	f := newFixture(dataset(), nil, staticOptions())
	f.client.sliceErr[0.5] = -1

	require.NoError(t, f.ctrl.Calibrate(context.Background(), "AMZN"))
	before := f.vols.count()

	_, err := f.ctrl.Select(context.Background(), 2)
	assert.ErrorIs(t, err, cache.ErrFetch)
	assert.Equal(t, before, f.vols.count())

	state, _ := f.ctrl.SelectorState()
	assert.Equal(t, 0, state.Index)
}

func TestSelectBounds(t *testing.T) {
	f := newFixture(dataset(), nil, staticOptions())
	_, err := f.ctrl.Select(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotCalibrated)

	require.NoError(t, f.ctrl.Calibrate(context.Background(), "AMZN"))
	_, err = f.ctrl.Select(context.Background(), 3)
	assert.ErrorIs(t, err, ErrIndex)
	_, err = f.ctrl.Select(context.Background(), -1)
	assert.ErrorIs(t, err, ErrIndex)
}

func TestFirstSliceFailureIsReported(t *testing.T) {
	f := newFixture(dataset(), nil, staticOptions())
	f.client.sliceErr[0.1] = -1

	err := f.ctrl.Calibrate(context.Background(), "AMZN")
	assert.ErrorIs(t, err, cache.ErrFetch)
	assert.True(t, f.notifier.ready)
	assert.Equal(t, 0, f.vols.count())

	_, err = f.ctrl.Select(context.Background(), 1)
	assert.NoError(t, err)
}

func TestCalibrateArmsAnimator(t *testing.T) {
	anim := animator.New(animator.TickerFrames(120), nil, nil)
	defer anim.Close()

	f := newFixture(dataset(), anim, DefaultOptions())
	require.NoError(t, f.ctrl.Calibrate(context.Background(), "AMZN"))

	assert.Equal(t, "Autumn", f.surface.last().Data[0]["colorscale"])
	assert.True(t, anim.Running(render.ViewSurface))

	f.surface.mu.Lock()
	handlers := len(f.surface.handlers)
	f.surface.mu.Unlock()
	require.Equal(t, 1, handlers)

	require.NoError(t, f.ctrl.Calibrate(context.Background(), "AMZN"))
	f.surface.mu.Lock()
	handlers = len(f.surface.handlers)
	f.surface.mu.Unlock()
	assert.Equal(t, 1, handlers, "re-arming must not add listeners")

	f.surface.mu.Lock()
	h := f.surface.handlers[0]
	f.surface.mu.Unlock()
	h(models.EventClick)
	assert.Eventually(t, func() bool { return !anim.Running(render.ViewSurface) }, time.Second, 5*time.Millisecond)
}
