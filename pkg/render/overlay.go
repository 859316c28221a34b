package render

import (
	"context"
	"fmt"
	"sort"

	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/gregtusar/volsurface/pkg/palette"
)

// OverlayRenderer draws every maturity's smile as its own line, colored by maturity.
type OverlayRenderer struct {
	view View
}

func NewOverlayRenderer(view View) *OverlayRenderer {
	return &OverlayRenderer{view: view}
}

func (r *OverlayRenderer) Render(ctx context.Context, samples []models.Sample) error {
	if err := r.view.React(ctx, OverlayFigure(samples)); err != nil {
		return fmt.Errorf("render slices overlay: %w", err)
	}
	return nil
}

// OverlayFigure groups samples by normalized maturity, sorts each group by log-moneyness,
// and appends an invisible trace that carries a Viridis colorbar keyed to t.
func OverlayFigure(samples []models.Sample) Figure {
	type point struct{ k, w float64 }
	groups := make(map[models.Maturity][]point)
	for _, s := range samples {
		t := models.Normalize(s.T)
		groups[t] = append(groups[t], point{k: s.K, w: s.W})
	}

	ts := make([]models.Maturity, 0, len(groups))
	for t := range groups {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	tMin, tMax := 0.0, 1.0
	if len(ts) > 0 {
		tMin, tMax = ts[0].Float(), ts[len(ts)-1].Float()
	}
	norm := palette.Normalizer(tMin, tMax)

	traces := make([]Trace, 0, len(ts)+1)
	for _, t := range ts {
		pts := groups[t]
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].k < pts[j].k })
		ks := make([]float64, len(pts))
		ws := make([]float64, len(pts))
		for i, p := range pts {
			ks[i], ws[i] = p.k, p.w
		}
		traces = append(traces, Trace{
			"type":          "scatter",
			"mode":          "lines",
			"x":             ks,
			"y":             ws,
			"line":          map[string]interface{}{"color": palette.Hex(palette.ColorAt(norm(t.Float()))), "width": 2},
			"hovertemplate": fmt.Sprintf("t=%.4f<br>k=%%{x:.2f}<br>w=%%{y:.4f}<extra></extra>", t.Float()),
			"showlegend":    false,
		})
	}

	traces = append(traces, Trace{
		"type": "scatter",
		"mode": "markers",
		"x":    []interface{}{nil, nil},
		"y":    []interface{}{nil, nil},
		"marker": map[string]interface{}{
			"color":      []float64{tMin, tMax},
			"colorscale": "Viridis",
			"cmin":       tMin,
			"cmax":       tMax,
			"showscale":  true,
			"colorbar":   map[string]interface{}{"title": "Time to Expiry (t)\n(years)"},
			"size":       0.0001,
			"opacity":    0,
		},
		"hoverinfo":  "skip",
		"showlegend": false,
	})

	layout := baseLayout("SVI Slices")
	layout["xaxis"] = axisTitle("Log Moneyness (k)")
	layout["yaxis"] = axisTitle("Total Implied Variance (w)")
	layout["showlegend"] = false

	return Figure{Data: traces, Layout: layout}
}
