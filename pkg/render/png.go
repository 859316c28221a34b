package render

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var ErrTooFewStrikes = errors.New("render: slice chart needs at least 2 strikes")

// SlicePNG writes the implied-volatility smile of slice as a PNG chart.
func SlicePNG(w io.Writer, slice *models.Slice, width, height int) error {
	t := slice.T.Float()
	if t <= 0 {
		return fmt.Errorf("%w: t=%s", ErrNonPositiveT, slice.T)
	}
	if slice.Len() < 2 {
		return fmt.Errorf("%w: t=%s has %d", ErrTooFewStrikes, slice.T, slice.Len())
	}

	series := func(name string, y []float64, color drawing.Color) chart.ContinuousSeries {
		xs, ys := finitePoints(slice.LogMoneyness, y)
		return chart.ContinuousSeries{
			Name:    name,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: color,
				StrokeWidth: 2,
				DotColor:    color,
				DotWidth:    3,
			},
		}
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("SVI Slice at t=%.4f", t),
		Width:  width,
		Height: height,
		XAxis:  chart.XAxis{Name: "Log Moneyness k = ln(K/F)"},
		YAxis:  chart.YAxis{Name: "Implied Volatility"},
		Series: []chart.Series{
			series("Market", ImpliedVols(slice.WObs, t), drawing.ColorRed),
			series("SVI Fit", ImpliedVols(slice.WEst, t), drawing.ColorFromHex("008000")),
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render slice chart: %w", err)
	}
	return nil
}

// finitePoints drops the points whose y is not a finite number.
func finitePoints(x, y []float64) ([]float64, []float64) {
	xs := make([]float64, 0, len(x))
	ys := make([]float64, 0, len(y))
	for i := range y {
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	return xs, ys
}
