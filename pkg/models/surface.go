package models

import "fmt"

// SurfaceGrid is a dense rectangular surface. Z is indexed [y][x]; nil cells are missing.
type SurfaceGrid struct {
	X []float64    `json:"x"`
	Y []float64    `json:"y"`
	Z [][]*float64 `json:"z"`
}

func (g SurfaceGrid) Validate() error {
	if len(g.Z) != len(g.Y) {
		return fmt.Errorf("grid has %d rows, want %d", len(g.Z), len(g.Y))
	}
	for i, row := range g.Z {
		if len(row) != len(g.X) {
			return fmt.Errorf("grid row %d has %d columns, want %d", i, len(row), len(g.X))
		}
	}
	return nil
}

// DenseGrid is surface data that arrives already gridded, with every cell present.
type DenseGrid struct {
	X []float64   `json:"x"`
	Y []float64   `json:"y"`
	Z [][]float64 `json:"z"`
}

// Cell returns the value at row i, column j and whether it is present.
func (g SurfaceGrid) Cell(i, j int) (float64, bool) {
	if v := g.Z[i][j]; v != nil {
		return *v, true
	}
	return 0, false
}
