// Package palette maps normalized scalars to colors by piecewise-linear interpolation
// over a fixed list of stops.
package palette

import (
	"fmt"
	"math"

	"github.com/wcharczuk/go-chart/v2/drawing"
)

// Stop is one (position, color) pair of a palette.
type Stop struct {
	Pos   float64
	Color drawing.Color
}

// Palette is an ascending list of stops covering [0,1].
type Palette []Stop

// Viridis uses the same stops as Plotly's built-in Viridis colorscale.
var Viridis = mustParse([][2]string{
	{"0.0", "#440154"}, {"0.111", "#482878"}, {"0.222", "#3e4989"},
	{"0.333", "#31688e"}, {"0.444", "#26828e"}, {"0.556", "#1f9e89"},
	{"0.667", "#35b779"}, {"0.778", "#6ece58"}, {"0.889", "#b5de2b"},
	{"1.0", "#fde725"},
})

func mustParse(stops [][2]string) Palette {
	p := make(Palette, 0, len(stops))
	for _, s := range stops {
		var pos float64
		if _, err := fmt.Sscanf(s[0], "%g", &pos); err != nil {
			panic(fmt.Sprintf("palette: bad stop position %q: %v", s[0], err))
		}
		p = append(p, Stop{Pos: pos, Color: drawing.ColorFromHex(s[1][1:])})
	}
	return p
}

// ColorAt returns the Viridis color for u.
func ColorAt(u float64) drawing.Color {
	return Viridis.At(u)
}

// At clamps u to [0,1] and interpolates between the bracketing stops. A u that sits exactly
// on a shared stop is resolved by the lower segment.
func (p Palette) At(u float64) drawing.Color {
	if len(p) == 0 {
		return drawing.ColorBlack
	}
	t := math.Min(1, math.Max(0, u))
	for i := 1; i < len(p); i++ {
		lo, hi := p[i-1], p[i]
		if t <= hi.Pos {
			f := (t - lo.Pos) / (hi.Pos - lo.Pos)
			return drawing.Color{
				R: lerp(lo.Color.R, hi.Color.R, f),
				G: lerp(lo.Color.G, hi.Color.G, f),
				B: lerp(lo.Color.B, hi.Color.B, f),
				A: 255,
			}
		}
	}
	return p[len(p)-1].Color
}

func lerp(a, b uint8, f float64) uint8 {
	v := math.Round(float64(a) + (float64(b)-float64(a))*f)
	return uint8(math.Max(0, math.Min(255, v)))
}

// Hex renders c as #rrggbb.
func Hex(c drawing.Color) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Normalizer maps [min,max] onto [0,1]. A degenerate range maps everything to 0.5.
func Normalizer(min, max float64) func(float64) float64 {
	return func(v float64) float64 {
		if max == min {
			return 0.5
		}
		return (v - min) / (max - min)
	}
}
