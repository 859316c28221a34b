package render

import (
	"context"
	"fmt"

	"github.com/gregtusar/volsurface/pkg/grid"
	"github.com/gregtusar/volsurface/pkg/models"
)

const contourDivisions = 12

// SurfaceOptions tune the 3-D surface figure.
type SurfaceOptions struct {
	Title      string
	Colorscale string
	Camera     models.Camera
}

// DefaultSurfaceOptions is the static render: Portland colors, camera looking along -x.
func DefaultSurfaceOptions() SurfaceOptions {
	return SurfaceOptions{
		Title:      "SVI Surface",
		Colorscale: "Portland",
		Camera: models.Camera{
			Eye:    models.Vec3{X: -2.2, Y: 0, Z: 0.1},
			Center: &models.Vec3{},
			Up:     models.Vec3{Z: 1},
		},
	}
}

// AnimatedSurfaceOptions is the render used under the spinning camera.
func AnimatedSurfaceOptions() SurfaceOptions {
	return SurfaceOptions{
		Title:      "SVI Surface",
		Colorscale: "Autumn",
		Camera: models.Camera{
			Eye: models.Vec3{X: -2.0, Y: 0, Z: 0.25},
			Up:  models.Vec3{Z: 1},
		},
	}
}

type SurfaceRenderer struct{}

func NewSurfaceRenderer() *SurfaceRenderer {
	return &SurfaceRenderer{}
}

// Render replaces view's figure with the surface of g and returns view for the animator.
func (r *SurfaceRenderer) Render(ctx context.Context, view View, g models.SurfaceGrid, opts SurfaceOptions) (View, error) {
	fig, err := SurfaceFigure(g, opts)
	if err != nil {
		return nil, err
	}
	if err := view.React(ctx, fig); err != nil {
		return nil, fmt.Errorf("render surface: %w", err)
	}
	return view, nil
}

// ContourSize is the wireframe spacing of an axis: a twelfth of its range, or 1 when the
// axis holds a single value.
func ContourSize(min, max float64) float64 {
	size := (max - min) / contourDivisions
	if size == 0 {
		return 1
	}
	return size
}

func SurfaceFigure(g models.SurfaceGrid, opts SurfaceOptions) (Figure, error) {
	if err := g.Validate(); err != nil {
		return Figure{}, err
	}
	if opts.Colorscale == "" {
		opts.Colorscale = "Portland"
	}

	xMin, xMax := grid.Range(g.X)
	yMin, yMax := grid.Range(g.Y)
	wire := "rgba(0,0,0,0.28)"

	trace := Trace{
		"type":       "surface",
		"x":          g.X,
		"y":          g.Y,
		"z":          g.Z,
		"colorscale": opts.Colorscale,
		"showscale":  true,
		"opacity":    0.98,
		"contours": map[string]interface{}{
			"x": map[string]interface{}{"show": true, "start": xMin, "end": xMax, "size": ContourSize(xMin, xMax), "color": wire, "width": 1},
			"y": map[string]interface{}{"show": true, "start": yMin, "end": yMax, "size": ContourSize(yMin, yMax), "color": wire, "width": 1},
			"z": map[string]interface{}{"show": false},
		},
		"lighting":      map[string]interface{}{"ambient": 0.55, "diffuse": 0.7, "specular": 0.25, "roughness": 0.85, "fresnel": 0.15},
		"lightposition": map[string]interface{}{"x": 120, "y": 180, "z": 200},
	}

	sceneAxis := func(title string) map[string]interface{} {
		return map[string]interface{}{
			"title":     map[string]interface{}{"text": title},
			"showgrid":  true,
			"gridcolor": "rgba(0,0,0,0.12)",
			"gridwidth": 1,
			"zeroline":  false,
		}
	}

	layout := Layout{
		"title":         opts.Title,
		"plot_bgcolor":  "rgba(0,0,0,0)",
		"paper_bgcolor": "rgba(0,0,0,0)",
		"scene": map[string]interface{}{
			"xaxis":       sceneAxis("t (years)"),
			"yaxis":       sceneAxis("k = ln(K/F)"),
			"zaxis":       sceneAxis("w = σ²·t"),
			"aspectmode":  "cube",
			"aspectratio": map[string]interface{}{"x": 1.2, "y": 1.0, "z": 0.75},
			"camera":      opts.Camera,
		},
		"margin": map[string]interface{}{"l": 0, "r": 0, "t": 40, "b": 0},
		// keeps a user-chosen camera across data updates
		"uirevision": "SVI-surface",
	}

	return Figure{Data: []Trace{trace}, Layout: layout}, nil
}
