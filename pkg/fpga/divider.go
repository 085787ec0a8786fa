package fpga

import "github.com/luxfi/bsfpga/pkg/fixed"

// DivOp computes (A << Frac) / B.
type DivOp struct {
	A fixed.Value
	B fixed.Value
}

// DivResult is a divider outcome. On error Quotient is zero.
type DivResult struct {
	Quotient fixed.Value
	Err      error // nil, ErrDivideByZero or ErrOverflow
}

// Valid reports whether Quotient holds a result
func (r DivResult) Valid() bool { return r.Err == nil }

// DivideByZero reports the divide-by-zero flag
func (r DivResult) DivideByZero() bool { return r.Err == ErrDivideByZero }

// Overflow reports the overflow flag
func (r DivResult) Overflow() bool { return r.Err == ErrOverflow }

type divState uint8

const (
	divIdle divState = iota
	divStart
	divIterate
	divGuard
	divRound
)

// DividerEngine is a restoring long divider for signed fixed-point operands.
//
// The magnitude quotient is produced one bit per tick over (W-1)+Frac
// iterations, followed by one guard-bit iteration and a rounding tick that
// rounds half to even. Divide-by-zero and Min operands are reported on the
// first tick without iterating.
type DividerEngine struct {
	port[DivOp, DivResult]
	format fixed.Format

	state divState
	neg   bool   // sign(a) XOR sign(b)
	num   uint64 // |a| << Frac
	den   uint64 // |b|
	rem   uint64
	quo   uint64
	bit   int // next dividend bit to shift in
	steps int // iterations done
	guard uint64
}

var _ Unit[DivOp, DivResult] = (*DividerEngine)(nil)

// NewDividerEngine creates an idle divider
func NewDividerEngine(f fixed.Format) *DividerEngine {
	return &DividerEngine{format: f}
}

// Iterations returns the number of recurrence steps per division
func (d *DividerEngine) Iterations() int {
	return int(d.format.Width-1) + int(d.format.Frac)
}

// Submit starts a division if the divider is idle
func (d *DividerEngine) Submit(op DivOp) bool {
	if !d.accept(op) {
		return false
	}
	d.state = divStart
	return true
}

// Reset forces the divider idle
func (d *DividerEngine) Reset() {
	d.clear()
	d.state = divIdle
}

// Tick advances the divider one step
func (d *DividerEngine) Tick() {
	switch d.state {
	case divStart:
		d.setup()
	case divIterate:
		d.iterate()
	case divGuard:
		d.rem <<= 1
		if d.rem >= d.den {
			d.rem -= d.den
			d.guard = 1
		}
		d.state = divRound
	case divRound:
		d.round()
	}
}

func (d *DividerEngine) setup() {
	a, b := d.op.A, d.op.B
	switch {
	case b == 0:
		d.fail(ErrDivideByZero)
		return
	case a == d.format.Min() || b == d.format.Min():
		d.fail(ErrOverflow)
		return
	}

	d.neg = (a < 0) != (b < 0)
	d.num = magnitude(a) << d.format.Frac
	d.den = magnitude(b)
	d.rem, d.quo, d.guard = 0, 0, 0
	d.bit = d.Iterations() - 1
	d.steps = 0
	d.state = divIterate
}

func (d *DividerEngine) iterate() {
	d.rem = d.rem<<1 | (d.num>>uint(d.bit))&1
	d.quo <<= 1
	if d.rem >= d.den {
		d.rem -= d.den
		d.quo |= 1
	}
	d.bit--
	d.steps++

	// The first Frac quotient bits sit above the result word. Once only W-1
	// bits remain to be produced, anything already set cannot fit.
	if d.steps == int(d.format.Frac) && d.quo != 0 {
		d.fail(ErrOverflow)
		return
	}
	if d.bit < 0 {
		d.state = divGuard
	}
}

func (d *DividerEngine) round() {
	q := d.quo
	if d.guard == 1 && (q&1 == 1 || d.rem != 0) {
		q++
	}
	if q > uint64(d.format.Max()) {
		d.fail(ErrOverflow)
		return
	}
	v := fixed.Value(q)
	if d.neg {
		v = -v
	}
	d.state = divIdle
	d.finish(DivResult{Quotient: v})
}

func (d *DividerEngine) fail(err error) {
	d.state = divIdle
	d.finish(DivResult{Err: err})
}

func magnitude(v fixed.Value) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
