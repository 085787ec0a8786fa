package fpga

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/bsfpga/pkg/fixed"
)

func TestLogKnownValues(t *testing.T) {
	l := NewLogEngine(q16)

	res, n := run[LogOp, LogResult](t, l, LogOp{X: q(1)})
	require.NoError(t, res.Err)
	assert.Equal(t, fixed.Value(0), res.Value)
	assert.Equal(t, 2, n)

	res, _ = run[LogOp, LogResult](t, l, LogOp{X: q(2)})
	assert.Equal(t, fixed.Value(45426), res.Value)

	res, _ = run[LogOp, LogResult](t, l, LogOp{X: q(0.5)})
	assert.Equal(t, fixed.Value(-45426), res.Value)
}

func TestLogAccuracy(t *testing.T) {
	l := NewLogEngine(q16)
	for raw := q(0.05); raw < q(1000); raw += 997 {
		res, _ := run[LogOp, LogResult](t, l, LogOp{X: raw})
		require.NoError(t, res.Err)
		assert.InDelta(t, math.Log(fl(raw)), fl(res.Value), 1e-3, "x=%v", fl(raw))
	}
}

func TestLogDomain(t *testing.T) {
	for _, x := range []fixed.Value{0, -1, q(-2.5), q16.Min()} {
		l := NewLogEngine(q16)
		res, _ := run[LogOp, LogResult](t, l, LogOp{X: x})
		assert.ErrorIs(t, res.Err, ErrDomain, "x=%d", x)
	}
}

func TestExpKnownValues(t *testing.T) {
	e := NewExpEngine(q16)

	res, n := run[ExpOp, ExpResult](t, e, ExpOp{X: 0})
	assert.Equal(t, q16.One(), res.Value)
	// latch, six powers, terms, sum
	assert.Equal(t, 9, n)

	res, _ = run[ExpOp, ExpResult](t, e, ExpOp{X: q(1)})
	assert.Equal(t, fixed.Value(24108), res.Value)

	res, _ = run[ExpOp, ExpResult](t, e, ExpOp{X: q(-1)})
	assert.Equal(t, fixed.Value(178144), res.Value)
}

func TestExpAccuracy(t *testing.T) {
	e := NewExpEngine(q16)
	for raw := q(-1); raw <= q(1); raw += 131 {
		res, _ := run[ExpOp, ExpResult](t, e, ExpOp{X: raw})
		assert.InDelta(t, math.Exp(-fl(raw)), fl(res.Value), 1e-4, "x=%v", fl(raw))
	}
}

func TestExpLogRoundTrip(t *testing.T) {
	l := NewLogEngine(q16)
	e := NewExpEngine(q16)
	for raw := q(0.5); raw < q(2.5); raw += 257 {
		lnx, _ := run[LogOp, LogResult](t, l, LogOp{X: raw})
		require.NoError(t, lnx.Err)
		back, _ := run[ExpOp, ExpResult](t, e, ExpOp{X: -lnx.Value})
		assert.InDelta(t, fl(raw), fl(back.Value), 2e-3, "x=%v", fl(raw))
	}
}
