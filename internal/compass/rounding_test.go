package compass

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundPoints(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{1.14, 1.0},
		{1.15, 1.0},
		{1.16, 1.5},
		{1.64, 1.5},
		{1.65, 2.0},
		{2.0, 2.0},
		{0, 0},
		{0.5, 0.5},
		{-1.5, -1.0},
		{-0.3, 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, RoundPoints(tc.in), "RoundPoints(%v)", tc.in)
	}
}

func TestRoundPointsIsIdempotent(t *testing.T) {
	for _, v := range []float64{0, 0.5, 1.14, 1.16, 1.64, 1.65, 3.7, 12.15, -2.4} {
		once := RoundPoints(v)
		require.Equal(t, once, RoundPoints(once))
	}
}

func TestRoundPointsNonFinite(t *testing.T) {
	require.Zero(t, RoundPoints(math.NaN()))
	require.Zero(t, RoundPoints(math.Inf(1)))
}

func TestRoundPointsBeyondFixedScale(t *testing.T) {
	require.Equal(t, 1e13, RoundPoints(1e13))
	require.Equal(t, -1e13, RoundPoints(-1e13))
	require.Equal(t, 1e300, RoundPoints(1e300))
	require.Equal(t, 9.3e12, RoundPoints(9.3e12+0.25))
	require.Equal(t, 1e12+0.5, RoundPoints(1e12+0.3))
}
