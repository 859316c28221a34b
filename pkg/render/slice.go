package render

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gregtusar/volsurface/pkg/models"
)

var ErrNonPositiveT = errors.New("render: maturity must be positive")

// SliceRenderer draws one maturity into the linked volatility and price views.
type SliceRenderer struct {
	vols   View
	prices View
}

func NewSliceRenderer(vols, prices View) *SliceRenderer {
	return &SliceRenderer{vols: vols, prices: prices}
}

// Render replaces both views with the market and fitted series of slice.
func (r *SliceRenderer) Render(ctx context.Context, slice *models.Slice) error {
	volFig, priceFig, err := SliceFigures(slice)
	if err != nil {
		return err
	}
	if err := r.vols.React(ctx, volFig); err != nil {
		return fmt.Errorf("render vols view: %w", err)
	}
	if err := r.prices.React(ctx, priceFig); err != nil {
		return fmt.Errorf("render prices view: %w", err)
	}
	return nil
}

// SliceFigures returns the implied-vol-vs-log-moneyness and price-vs-strike figures.
func SliceFigures(slice *models.Slice) (vols Figure, prices Figure, err error) {
	t := slice.T.Float()
	if t <= 0 {
		return Figure{}, Figure{}, fmt.Errorf("%w: t=%s", ErrNonPositiveT, slice.T)
	}

	title := fmt.Sprintf("SVI Slice at t=%.4f", t)
	legend := map[string]interface{}{"orientation": "h", "y": -0.3}

	volLayout := baseLayout(title)
	volLayout["xaxis"] = axisTitle("Log Moneyness\nk = ln(K/F)")
	volLayout["yaxis"] = axisTitle("Implied Volatility\nσ = √(w/t)")
	volLayout["showlegend"] = true
	volLayout["legend"] = legend

	volHover := fmt.Sprintf("t=%.4f<br>k=%%{x:.2f}<br>σ=%%{y:.4f}<extra></extra>", t)
	vols = Figure{
		Data: []Trace{
			lineTrace("Market", "red", slice.LogMoneyness, plotValues(ImpliedVols(slice.WObs, t)), volHover),
			lineTrace("SVI Fit", "green", slice.LogMoneyness, plotValues(ImpliedVols(slice.WEst, t)), volHover),
		},
		Layout: volLayout,
	}

	priceLayout := baseLayout(title)
	priceLayout["xaxis"] = axisTitle("Strike Price \nK ($)")
	priceLayout["yaxis"] = axisTitle("Black-Scholes Price ($)")
	priceLayout["showlegend"] = true
	priceLayout["legend"] = legend

	priceHover := fmt.Sprintf("t=%.4f<br>K=%%{x:.2f}<br>w=%%{y:.4f}<extra></extra>", t)
	prices = Figure{
		Data: []Trace{
			lineTrace("Market", "blue", slice.Strikes, slice.BSMid, priceHover),
			lineTrace("SVI Fit", "orange", slice.Strikes, slice.BSEst, priceHover),
		},
		Layout: priceLayout,
	}
	return vols, prices, nil
}

// ImpliedVols converts total variances at maturity t to implied volatilities, sqrt(w/t).
// A negative variance yields NaN.
func ImpliedVols(w []float64, t float64) []float64 {
	out := make([]float64, len(w))
	for i, v := range w {
		out[i] = math.Sqrt(v / t)
	}
	return out
}

// plotValues maps non-finite values to nil so they encode as JSON null and plot as gaps.
func plotValues(vs []float64) []*float64 {
	out := make([]*float64, len(vs))
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v := v
		out[i] = &v
	}
	return out
}

func lineTrace(name, color string, x []float64, y interface{}, hover string) Trace {
	return Trace{
		"type":          "scatter",
		"mode":          "lines+markers",
		"x":             x,
		"y":             y,
		"name":          name,
		"marker":        map[string]interface{}{"color": color, "size": 6},
		"hovertemplate": hover,
	}
}
