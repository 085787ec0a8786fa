package fpga

import (
	"math/bits"

	"github.com/luxfi/bsfpga/pkg/fixed"
)

// Natural log constants in Q16.16. The cubic is a minimax fit of ln(1+t) on
// [0, 1] with no constant term, so ln(1.0) is exactly zero.
const (
	lnC1  = 64714  // 0.98745
	lnC2  = -26765 // -0.40840
	lnC3  = 7512   // 0.11463
	lnTwo = 45426  // ln 2
)

// LogOp takes ln(X) for X > 0.
type LogOp struct {
	X fixed.Value
}

// LogResult holds ln(X). Err is ErrDomain when X <= 0.
type LogResult struct {
	Value fixed.Value
	Err   error
}

type logState uint8

const (
	logIdle logState = iota
	logNormalize
	logEvaluate
)

// LogEngine computes ln(x) in two ticks: normalize x to m * 2^e with m in
// [1, 2), then evaluate P(m-1) + e*ln2.
type LogEngine struct {
	port[LogOp, LogResult]
	format fixed.Format

	state    logState
	exponent int
	mantissa fixed.Value

	c1, c2, c3, ln2 fixed.Value
}

var _ Unit[LogOp, LogResult] = (*LogEngine)(nil)

// NewLogEngine creates an idle log engine
func NewLogEngine(f fixed.Format) *LogEngine {
	return &LogEngine{
		format: f,
		c1:     rescale(lnC1, f),
		c2:     rescale(lnC2, f),
		c3:     rescale(lnC3, f),
		ln2:    rescale(lnTwo, f),
	}
}

// Submit starts a logarithm if the engine is idle
func (l *LogEngine) Submit(op LogOp) bool {
	if !l.accept(op) {
		return false
	}
	l.state = logNormalize
	return true
}

// Reset forces the engine idle
func (l *LogEngine) Reset() {
	l.clear()
	l.state = logIdle
}

// Tick advances the engine one step
func (l *LogEngine) Tick() {
	switch l.state {
	case logNormalize:
		x := l.op.X
		if x <= 0 {
			l.state = logIdle
			l.finish(LogResult{Err: ErrDomain})
			return
		}
		msb := bits.Len64(uint64(x)) - 1
		l.exponent = msb - int(l.format.Frac)
		switch {
		case l.exponent > 0:
			l.mantissa = (x + fixed.Value(1)<<uint(l.exponent-1)) >> uint(l.exponent)
		case l.exponent < 0:
			l.mantissa = x << uint(-l.exponent)
		default:
			l.mantissa = x
		}
		l.state = logEvaluate

	case logEvaluate:
		f := l.format
		t := l.mantissa - f.One()
		p := f.Mul(l.c3, t, fixed.Truncate) + l.c2
		p = f.Mul(p, t, fixed.Truncate) + l.c1
		p = f.Mul(p, t, fixed.Truncate)
		v := f.Wrap(p + fixed.Value(l.exponent)*l.ln2)
		l.state = logIdle
		l.finish(LogResult{Value: v})
	}
}

// rescale converts a Q16.16 constant to format f.
func rescale(q16 int64, f fixed.Format) fixed.Value {
	switch {
	case f.Frac == 16:
		return fixed.Value(q16)
	case f.Frac > 16:
		return fixed.Value(q16 << (f.Frac - 16))
	default:
		shift := 16 - f.Frac
		return fixed.Value((q16 + 1<<(shift-1)) >> shift)
	}
}
