// Package render builds the chart figures handed to the browser's plotting library.
package render

import (
	"context"

	"github.com/gregtusar/volsurface/pkg/models"
)

// Trace and Layout mirror Plotly's free-form trace and layout objects.
type (
	Trace  map[string]interface{}
	Layout map[string]interface{}
)

// Figure is a complete chart: replacing a view's figure discards its previous traces.
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// View is one chart surface in the browser.
type View interface {
	ID() string
	// React replaces the view's figure.
	React(ctx context.Context, fig Figure) error
	// Relayout applies a partial layout update and returns once the view has applied it.
	Relayout(ctx context.Context, update Layout) error
}

// Canonical view ids.
const (
	ViewSurface = "surface"
	ViewSlices  = "slices"
	ViewVols    = "vols"
	ViewPrices  = "prices"
)

// CameraUpdate is the camera-only layout update for a 3-D scene.
func CameraUpdate(cam models.Camera) Layout {
	return Layout{"scene.camera": cam}
}

func axisTitle(text string) map[string]interface{} {
	return map[string]interface{}{"title": map[string]interface{}{"text": text}, "zeroline": false}
}

func baseLayout(title string) Layout {
	return Layout{
		"title":         title,
		"margin":        map[string]interface{}{"l": 60, "r": 30, "t": 40, "b": 60},
		"plot_bgcolor":  "rgba(0,0,0,0)",
		"paper_bgcolor": "rgba(0,0,0,0)",
	}
}
