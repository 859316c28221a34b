package models

import (
	"math"
	"sort"
	"strconv"
)

// Sample is one scattered point of the fitted surface.
type Sample struct {
	T float64 `json:"tj"`
	K float64 `json:"k"`
	W float64 `json:"w"`
}

// Maturity is a time to expiry rounded to MaturityDigits decimals. Two maturities that round
// to the same value are the same key for caching and gridding.
type Maturity float64

const MaturityDigits = 6

const maturityScale = 1e6

// Normalize rounds v to MaturityDigits decimal places.
func Normalize(v float64) Maturity {
	return Maturity(math.Round(v*maturityScale) / maturityScale)
}

func (m Maturity) Float() float64 {
	return float64(m)
}

// String renders the fixed 6-decimal text used on the wire.
func (m Maturity) String() string {
	return strconv.FormatFloat(float64(m), 'f', MaturityDigits, 64)
}

// UniqueMaturities returns the distinct normalized maturities of values, ascending.
func UniqueMaturities(values []float64) []Maturity {
	seen := make(map[Maturity]struct{}, len(values))
	out := make([]Maturity, 0)
	for _, v := range values {
		m := Normalize(v)
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
