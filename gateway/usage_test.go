package gateway

import (
	"math"
	"testing"
)

func TestEstimateCost(t *testing.T) {
	cases := []struct {
		in, out     int
		kIn, kOut   float64
		precision   int
		want        float64
		description string
	}{
		{1000, 1000, 0.01, 0.03, 6, 0.04, "one K each"},
		{500, 250, 0.01, 0.03, 6, 0.0125, "fractional K"},
		{0, 0, 0.01, 0.03, 6, 0, "empty exchange"},
		{123, 456, 0.0015, 0.002, 6, 0.001097, "rounded to precision"},
		{123, 456, 0.0015, 0.002, 4, 0.0011, "coarser precision"},
	}
	for _, tc := range cases {
		got := EstimateCost(tc.in, tc.out, tc.kIn, tc.kOut, tc.precision)
		if math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("%s: EstimateCost = %v, want %v", tc.description, got, tc.want)
		}
	}
}
