package models

import "fmt"

// Slice holds the per-strike detail of one maturity. All array fields are index-aligned.
type Slice struct {
	T            Maturity  `json:"t"`
	Strikes      []float64 `json:"K"`
	LogMoneyness []float64 `json:"k"`
	BSMid        []float64 `json:"bs_mid"`
	BSEst        []float64 `json:"bs_est"`
	WObs         []float64 `json:"w_obs"`
	WEst         []float64 `json:"w_est"`
}

func (s *Slice) Len() int {
	return len(s.Strikes)
}

// Validate checks that every array field has the same length.
func (s *Slice) Validate() error {
	n := len(s.Strikes)
	fields := map[string]int{
		"k":      len(s.LogMoneyness),
		"bs_mid": len(s.BSMid),
		"bs_est": len(s.BSEst),
		"w_obs":  len(s.WObs),
		"w_est":  len(s.WEst),
	}
	for name, l := range fields {
		if l != n {
			return fmt.Errorf("slice t=%s: field %s has %d values, K has %d", s.T, name, l, n)
		}
	}
	return nil
}
