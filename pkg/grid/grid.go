// Package grid turns scattered (t, k, w) samples into a dense surface grid.
package grid

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gregtusar/volsurface/pkg/models"
)

var ErrShape = errors.New("grid: shape mismatch")

// Gridify builds a grid whose columns are the distinct maturities and whose rows are the
// distinct log-moneyness values of samples, both ascending. Axis membership is exact float
// equality; use Normalized first when maturities carry numerical noise. Duplicate (t, k)
// pairs overwrite earlier ones.
func Gridify(samples []models.Sample) models.SurfaceGrid {
	ts := make([]float64, len(samples))
	ks := make([]float64, len(samples))
	for i, s := range samples {
		ts[i] = s.T
		ks[i] = s.K
	}
	return GridifyOnAxes(uniqueSorted(ts), uniqueSorted(ks), samples)
}

// GridifyOnAxes places samples on the given axes. Samples whose t is not in x or whose k is
// not in y are dropped.
func GridifyOnAxes(x, y []float64, samples []models.Sample) models.SurfaceGrid {
	xIndex := indexOf(x)
	yIndex := indexOf(y)

	z := make([][]*float64, len(y))
	for i := range z {
		z[i] = make([]*float64, len(x))
	}

	for _, s := range samples {
		xi, okx := xIndex[s.T]
		yi, oky := yIndex[s.K]
		if !okx || !oky {
			continue
		}
		w := s.W
		z[yi][xi] = &w
	}

	return models.SurfaceGrid{X: x, Y: y, Z: z}
}

// Normalized returns a copy of samples with every maturity passed through models.Normalize.
func Normalized(samples []models.Sample) []models.Sample {
	out := make([]models.Sample, len(samples))
	for i, s := range samples {
		out[i] = models.Sample{T: models.Normalize(s.T).Float(), K: s.K, W: s.W}
	}
	return out
}

// FromDense wraps data that is already on a rectangular grid, z indexed [y][x]. Cell values
// are copied; later changes to z do not reach the grid.
func FromDense(x, y []float64, z [][]float64) (models.SurfaceGrid, error) {
	if len(z) != len(y) {
		return models.SurfaceGrid{}, fmt.Errorf("%w: %d rows for %d y values", ErrShape, len(z), len(y))
	}
	out := make([][]*float64, len(z))
	for i, row := range z {
		if len(row) != len(x) {
			return models.SurfaceGrid{}, fmt.Errorf("%w: row %d has %d columns for %d x values", ErrShape, i, len(row), len(x))
		}
		out[i] = make([]*float64, len(row))
		for j, v := range row {
			v := v
			out[i][j] = &v
		}
	}
	return models.SurfaceGrid{X: x, Y: y, Z: out}, nil
}

// Range returns the minimum and maximum of vs. It returns zeros for an empty slice.
func Range(vs []float64) (min, max float64) {
	if len(vs) == 0 {
		return 0, 0
	}
	min, max = vs[0], vs[0]
	for _, v := range vs[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func uniqueSorted(vs []float64) []float64 {
	seen := make(map[float64]struct{}, len(vs))
	out := make([]float64, 0, len(vs))
	for _, v := range vs {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

func indexOf(axis []float64) map[float64]int {
	m := make(map[float64]int, len(axis))
	for i, v := range axis {
		m[v] = i
	}
	return m
}
