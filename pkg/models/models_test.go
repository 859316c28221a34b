package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCollapsesNearDuplicates(t *testing.T) {
	cases := []struct {
		a, b float64
	}{
		{0.1, 0.1 + 4e-7},
		{0.25, 0.25 - 2e-7},
		{1.0 / 3.0, 0.333333},
		{0.0833333333, 0.08333329},
	}
	for _, c := range cases {
		assert.Equal(t, Normalize(c.a), Normalize(c.b), "%v vs %v", c.a, c.b)
	}
	assert.NotEqual(t, Normalize(0.1), Normalize(0.100002))
}

func TestMaturityString(t *testing.T) {
	assert.Equal(t, "0.100000", Normalize(0.1).String())
	assert.Equal(t, "0.083333", Normalize(1.0/12.0).String())
	assert.Equal(t, "2.000000", Maturity(2).String())
}

func TestUniqueMaturities(t *testing.T) {
	got := UniqueMaturities([]float64{0.5, 0.1, 0.1000000001, 0.25, 0.5})
	assert.Equal(t, []Maturity{0.1, 0.25, 0.5}, got)
	assert.Empty(t, UniqueMaturities(nil))
}

func TestSliceValidate(t *testing.T) {
	s := &Slice{
		T:            0.25,
		Strikes:      []float64{90, 100},
		LogMoneyness: []float64{-0.1, 0},
		BSMid:        []float64{11, 4},
		BSEst:        []float64{11.2, 3.9},
		WObs:         []float64{0.02, 0.018},
		WEst:         []float64{0.021, 0.017},
	}
	require.NoError(t, s.Validate())
	assert.Equal(t, 2, s.Len())

	s.WEst = s.WEst[:1]
	assert.Error(t, s.Validate())
}

func TestSliceJSONFieldNames(t *testing.T) {
	var s Slice
	raw := `{"K":[100],"k":[0],"bs_mid":[5],"bs_est":[5.1],"w_obs":[0.04],"w_est":[0.041]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	assert.Equal(t, []float64{100}, s.Strikes)
	assert.Equal(t, []float64{0.041}, s.WEst)
}

func TestSurfaceGridMissingCellsEncodeAsNull(t *testing.T) {
	v := 0.02
	g := SurfaceGrid{X: []float64{0.1, 0.5}, Y: []float64{0}, Z: [][]*float64{{&v, nil}}}
	require.NoError(t, g.Validate())

	b, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":[0.1,0.5],"y":[0],"z":[[0.02,null]]}`, string(b))

	_, ok := g.Cell(0, 1)
	assert.False(t, ok)

	g.Z = append(g.Z, []*float64{nil})
	assert.Error(t, g.Validate())
}

func TestEchoableEvents(t *testing.T) {
	assert.True(t, EventRelayout.Echoable())
	assert.True(t, EventHover.Echoable())
	assert.False(t, EventClick.Echoable())
	assert.False(t, EventDoubleClick.Echoable())
	assert.False(t, ViewEvent("zoom").Valid())
}
