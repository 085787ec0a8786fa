package fpga

import "github.com/luxfi/bsfpga/pkg/fixed"

// Reciprocal factorials 1/k! in Q16.16 for k = 0..7.
var invFactorial = [8]int64{65536, 65536, 32768, 10923, 2731, 546, 91, 13}

const taylorTerms = 8

// ExpOp computes e^-X.
type ExpOp struct {
	X fixed.Value
}

// ExpResult holds e^-X.
type ExpResult struct {
	Value fixed.Value
}

type expState uint8

const (
	expIdle expState = iota
	expLatch
	expPower
	expTerms
	expSum
)

// ExpEngine evaluates the eight-term Taylor series of e^-x:
//
//	1 - x + x^2/2! - x^3/3! + x^4/4! - x^5/5! + x^6/6! - x^7/7!
//
// Powers x^2..x^7 are built one per tick, then the signed terms and their
// sum take a tick each. There is no range reduction: the series is only
// accurate for small |x| (within a few LSB for |x| <= 1) and callers must
// keep their arguments inside that range.
type ExpEngine struct {
	port[ExpOp, ExpResult]
	format fixed.Format

	state  expState
	powers [taylorTerms]fixed.Value
	terms  [taylorTerms]fixed.Value
	next   int
	inv    [taylorTerms]fixed.Value
}

var _ Unit[ExpOp, ExpResult] = (*ExpEngine)(nil)

// NewExpEngine creates an idle exponential engine
func NewExpEngine(f fixed.Format) *ExpEngine {
	e := &ExpEngine{format: f}
	for k, c := range invFactorial {
		e.inv[k] = rescale(c, f)
	}
	return e
}

// Submit starts an exponential if the engine is idle
func (e *ExpEngine) Submit(op ExpOp) bool {
	if !e.accept(op) {
		return false
	}
	e.state = expLatch
	return true
}

// Reset forces the engine idle
func (e *ExpEngine) Reset() {
	e.clear()
	e.state = expIdle
}

// Tick advances the engine one step
func (e *ExpEngine) Tick() {
	f := e.format
	switch e.state {
	case expLatch:
		e.powers[0] = f.One()
		e.powers[1] = e.op.X
		e.next = 2
		e.state = expPower

	case expPower:
		e.powers[e.next] = f.Mul(e.powers[e.next-1], e.op.X, fixed.Truncate)
		e.next++
		if e.next == taylorTerms {
			e.state = expTerms
		}

	case expTerms:
		e.terms[0] = e.powers[0]
		e.terms[1] = -e.powers[1]
		for k := 2; k < taylorTerms; k++ {
			t := f.Mul(e.powers[k], e.inv[k], fixed.Truncate)
			if k%2 == 1 {
				t = -t
			}
			e.terms[k] = t
		}
		e.state = expSum

	case expSum:
		var sum fixed.Value
		for _, t := range e.terms {
			sum += t
		}
		e.state = expIdle
		e.finish(ExpResult{Value: f.Wrap(sum)})
	}
}
