package fpga

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/bsfpga/pkg/fixed"
)

var q16 = fixed.Q16_16

// q encodes a float in Q16.16, rounding to nearest
func q(x float64) fixed.Value {
	return fixed.Value(math.Round(x * float64(q16.One())))
}

func fl(v fixed.Value) float64 {
	return q16.Float64(v)
}

// run submits op, drives u until its result is pending and consumes it.
func run[Op, R any](t testing.TB, u Unit[Op, R], op Op) (R, int) {
	t.Helper()
	require.True(t, u.Submit(op), "unit rejected submit")
	n, err := Drive(u, DefaultTickLimit)
	require.NoError(t, err)
	r, ok := u.Result()
	require.True(t, ok)
	return r, n
}
