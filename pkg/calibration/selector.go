package calibration

import (
	"fmt"
	"math"

	"github.com/gregtusar/volsurface/pkg/models"
)

const maxTicks = 15

// Tick is one labelled mark of the maturity selector.
type Tick struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// SelectorState is what the browser needs to draw the maturity slider.
type SelectorState struct {
	Min        int     `json:"min"`
	Max        int     `json:"max"`
	Index      int     `json:"index"`
	Maturity   float64 `json:"maturity"`
	MinLabel   string  `json:"min_label"`
	MaxLabel   string  `json:"max_label"`
	ValueLabel string  `json:"value_label"`
	Ticks      []Tick  `json:"ticks"`
}

// Selector maps slider indices onto the ascending maturities of a calibration run.
type Selector struct {
	values []models.Maturity
	index  int
	label  string
}

func NewSelector(values []models.Maturity) *Selector {
	s := &Selector{values: values}
	if len(values) > 0 {
		s.label = fmt.Sprintf("%.2f", values[0].Float())
	}
	return s
}

// At returns the maturity at index i.
func (s *Selector) At(i int) (models.Maturity, error) {
	if i < 0 || i >= len(s.values) {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrIndex, i, len(s.values))
	}
	return s.values[i], nil
}

// Move sets the current index and returns its maturity.
func (s *Selector) Move(i int) (models.Maturity, error) {
	t, err := s.At(i)
	if err != nil {
		return 0, err
	}
	s.index = i
	s.label = t.String()
	return t, nil
}

func (s *Selector) State() SelectorState {
	n := len(s.values)
	st := SelectorState{
		Min:        0,
		Max:        int(math.Max(0, float64(n-1))),
		Index:      s.index,
		ValueLabel: s.label,
		Ticks:      Ticks(s.values),
	}
	if n > 0 {
		st.Maturity = s.values[s.index].Float()
		st.MinLabel = fmt.Sprintf("%.2f", s.values[0].Float())
		st.MaxLabel = fmt.Sprintf("%.2f", s.values[n-1].Float())
	}
	return st
}

// Ticks samples at most 15 evenly spread indices of values, always including both ends.
func Ticks(values []models.Maturity) []Tick {
	n := len(values)
	count := n
	if count > maxTicks {
		count = maxTicks
	}
	ticks := make([]Tick, 0, count)
	for i := 0; i < count; i++ {
		idx := 0
		if count > 1 {
			idx = int(math.Round(float64(i*(n-1)) / float64(count-1)))
		}
		ticks = append(ticks, Tick{Index: idx, Label: fmt.Sprintf("%.2f", values[idx].Float())})
	}
	return ticks
}
