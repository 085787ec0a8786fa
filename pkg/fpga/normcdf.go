package fpga

import (
	"fmt"
	"strings"

	"github.com/luxfi/bsfpga/pkg/fixed"
)

// CDFStrategy selects how NormalCDFEngine evaluates Phi(|x|).
type CDFStrategy int

const (
	// CDFRational is the Abramowitz-Stegun 26.2.17 rational approximation
	// built on ExpEngine and DividerEngine. Absolute error <= 1e-3.
	CDFRational CDFStrategy = iota
	// CDFTable interpolates a table sampled every 0.1 on [0, 3] and
	// saturates beyond 3.0. Absolute error <= 1.5e-3.
	CDFTable
	// CDFQuartic is a direct quartic fit on [0, 5]. Absolute error <= 1e-2.
	CDFQuartic
)

// String returns the strategy name
func (s CDFStrategy) String() string {
	switch s {
	case CDFRational:
		return "rational"
	case CDFTable:
		return "table"
	case CDFQuartic:
		return "quartic"
	default:
		return fmt.Sprintf("cdf(%d)", int(s))
	}
}

// ParseCDFStrategy parses a strategy name
func ParseCDFStrategy(name string) (CDFStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "rational", "as", "abramowitz-stegun":
		return CDFRational, nil
	case "table", "lut":
		return CDFTable, nil
	case "quartic", "poly":
		return CDFQuartic, nil
	}
	return 0, fmt.Errorf("unknown CDF strategy %q", name)
}

// CDFOp evaluates Phi(X).
type CDFOp struct {
	X fixed.Value
}

// CDFResult holds Phi(X).
type CDFResult struct {
	Value fixed.Value
}

// cdfKernel evaluates Phi(ax) for ax > 0, one step per tick.
type cdfKernel interface {
	start(ax fixed.Value)
	step() (fixed.Value, bool)
	reset()
}

type cdfState uint8

const (
	cdfIdle cdfState = iota
	cdfStart
	cdfRun
)

// NormalCDFEngine computes the standard normal CDF. Phi(0) is exactly one
// half and negative arguments are reflected, Phi(-x) = 1 - Phi(x), so the
// symmetry holds bit for bit whatever the strategy.
type NormalCDFEngine struct {
	port[CDFOp, CDFResult]
	format   fixed.Format
	strategy CDFStrategy
	kernel   cdfKernel

	state    cdfState
	negative bool
}

var _ Unit[CDFOp, CDFResult] = (*NormalCDFEngine)(nil)

// NewNormalCDFEngine creates an idle CDF engine using strategy s
func NewNormalCDFEngine(f fixed.Format, s CDFStrategy) *NormalCDFEngine {
	n := &NormalCDFEngine{format: f, strategy: s}
	switch s {
	case CDFTable:
		n.kernel = newTableCDF(f)
	case CDFQuartic:
		n.kernel = newQuarticCDF(f)
	default:
		n.strategy = CDFRational
		n.kernel = newRationalCDF(f)
	}
	return n
}

// Strategy returns the evaluation strategy in use
func (n *NormalCDFEngine) Strategy() CDFStrategy {
	return n.strategy
}

// Submit starts a CDF evaluation if the engine is idle
func (n *NormalCDFEngine) Submit(op CDFOp) bool {
	if !n.accept(op) {
		return false
	}
	n.state = cdfStart
	return true
}

// Reset forces the engine and its kernel idle
func (n *NormalCDFEngine) Reset() {
	n.clear()
	n.kernel.reset()
	n.state = cdfIdle
}

// Tick advances the engine one step
func (n *NormalCDFEngine) Tick() {
	f := n.format
	switch n.state {
	case cdfStart:
		x := n.op.X
		if x == 0 {
			n.state = cdfIdle
			n.finish(CDFResult{Value: f.Half()})
			return
		}
		n.negative = x < 0
		ax := x
		switch {
		case x == f.Min():
			ax = f.Max()
		case x < 0:
			ax = -x
		}
		n.kernel.start(ax)
		n.state = cdfRun

	case cdfRun:
		v, ok := n.kernel.step()
		if !ok {
			return
		}
		if n.negative {
			v = f.One() - v
		}
		n.state = cdfIdle
		n.finish(CDFResult{Value: v})
	}
}

// Abramowitz-Stegun 26.2.17 constants in Q16.16.
const (
	asGamma     = 15181 // 0.2316419
	asInvSqrt2P = 26145 // 1/sqrt(2*pi)
	asSaturate  = 5     // Phi(x) rounds to 1.0 at and beyond 5
)

var asCoeffs = [5]int64{20931, -23368, 116751, -119358, 87181}

type rationalPhase uint8

const (
	ratWait rationalPhase = iota
	ratSquare
	ratCombine
	ratSaturated
)

// rationalCDF computes 1 - phi(x) * sum(b_i k^i) with k = 1/(1+gamma*x).
// e^{-x^2/2} is taken as (e^{-y/2^s})^(2^s) with y/2^s <= 1, which keeps
// ExpEngine inside the range its series is accurate for.
type rationalCDF struct {
	format fixed.Format
	exp    *ExpEngine
	div    *DividerEngine

	phase     rationalPhase
	halvings  int
	density   fixed.Value // e^{-x^2/2} once squared back
	k         fixed.Value
	haveExp   bool
	haveK     bool
	gamma     fixed.Value
	invSqrt2P fixed.Value
	coeffs    [5]fixed.Value
}

func newRationalCDF(f fixed.Format) *rationalCDF {
	r := &rationalCDF{
		format:    f,
		exp:       NewExpEngine(f),
		div:       NewDividerEngine(f),
		gamma:     rescale(asGamma, f),
		invSqrt2P: rescale(asInvSqrt2P, f),
	}
	for i, c := range asCoeffs {
		r.coeffs[i] = rescale(c, f)
	}
	return r
}

func (r *rationalCDF) start(ax fixed.Value) {
	f := r.format
	r.haveExp, r.haveK = false, false
	if ax >= saturation(f, asSaturate) {
		r.phase = ratSaturated
		return
	}

	// x^2/2 is formed from the widened product; in narrow words x^2 itself
	// does not fit.
	y := fixed.Value(f.MulWide(ax, ax) >> (f.Frac + 1))
	r.halvings = 0
	for y > f.One() {
		y >>= 1
		r.halvings++
	}
	r.exp.Submit(ExpOp{X: y})
	r.div.Submit(DivOp{A: f.One(), B: f.One() + f.Mul(r.gamma, ax, fixed.Truncate)})
	r.phase = ratWait
}

func (r *rationalCDF) step() (fixed.Value, bool) {
	f := r.format
	r.exp.Tick()
	r.div.Tick()

	switch r.phase {
	case ratSaturated:
		return f.One(), true

	case ratWait:
		if !r.haveExp {
			if res, ok := r.exp.Result(); ok {
				r.density = res.Value
				r.haveExp = true
			}
		}
		if !r.haveK {
			if res, ok := r.div.Result(); ok {
				r.k = res.Quotient
				r.haveK = true
			}
		}
		if r.haveExp && r.haveK {
			if r.halvings > 0 {
				r.phase = ratSquare
			} else {
				r.phase = ratCombine
			}
		}

	case ratSquare:
		r.density = f.Mul(r.density, r.density, fixed.Truncate)
		r.halvings--
		if r.halvings == 0 {
			r.phase = ratCombine
		}

	case ratCombine:
		pdf := f.Mul(r.invSqrt2P, r.density, fixed.Truncate)
		poly := r.coeffs[4]
		for i := 3; i >= 0; i-- {
			poly = f.Mul(poly, r.k, fixed.Truncate) + r.coeffs[i]
		}
		poly = f.Mul(poly, r.k, fixed.Truncate)
		return f.One() - f.Mul(pdf, poly, fixed.Truncate), true
	}
	return 0, false
}

func (r *rationalCDF) reset() {
	r.exp.Reset()
	r.div.Reset()
	r.haveExp, r.haveK = false, false
	r.phase = ratWait
}

// Phi(0.0), Phi(0.1), ..., Phi(3.0) in Q16.16.
var cdfTable = [31]int64{
	32768, 35378, 37962, 40495, 42954, 45316, 47563, 49679, 51652, 53473,
	55138, 56645, 57995, 59192, 60244, 61158, 61945, 62615, 63181, 63654,
	64045, 64365, 64625, 64833, 64999, 65129, 65231, 65309, 65369, 65414,
	65448,
}

// tableCDF interpolates linearly between table samples.
type tableCDF struct {
	format fixed.Format
	table  [31]fixed.Value
	ax     fixed.Value
}

func newTableCDF(f fixed.Format) *tableCDF {
	t := &tableCDF{format: f}
	for i, v := range cdfTable {
		t.table[i] = rescale(v, f)
	}
	return t
}

func (t *tableCDF) start(ax fixed.Value) { t.ax = ax }

func (t *tableCDF) step() (fixed.Value, bool) {
	f := t.format
	if t.ax >= saturation(f, 3) {
		return f.One(), true
	}
	scaled := t.ax * 10
	i := scaled >> f.Frac
	frac := scaled & (f.One() - 1)
	lo, hi := t.table[i], t.table[i+1]
	return lo + f.Mul(hi-lo, frac, fixed.Truncate), true
}

func (t *tableCDF) reset() { t.ax = 0 }

// Quartic fit a0 + a1 x + ... + a4 x^4 of Phi on [0, 5], Q16.16.
var quarticCoeffs = [5]int64{32328, 31542, -10198, 1267, -44}

type quarticCDF struct {
	format fixed.Format
	coeffs [5]fixed.Value
	ax     fixed.Value
}

func newQuarticCDF(f fixed.Format) *quarticCDF {
	q := &quarticCDF{format: f}
	for i, c := range quarticCoeffs {
		q.coeffs[i] = rescale(c, f)
	}
	return q
}

func (q *quarticCDF) start(ax fixed.Value) { q.ax = ax }

func (q *quarticCDF) step() (fixed.Value, bool) {
	f := q.format
	if q.ax >= saturation(f, 5) {
		return f.One(), true
	}
	p := q.coeffs[4]
	for i := 3; i >= 0; i-- {
		p = f.Mul(p, q.ax, fixed.Truncate) + q.coeffs[i]
	}
	switch {
	case p < f.Half():
		p = f.Half()
	case p > f.One():
		p = f.One()
	}
	return p, true
}

func (q *quarticCDF) reset() { q.ax = 0 }

// saturation returns the threshold n as an unwrapped comparand. When n is
// beyond the word's range every representable |x| falls below it.
func saturation(f fixed.Format, n int64) fixed.Value {
	return fixed.Value(n) << f.Frac
}
