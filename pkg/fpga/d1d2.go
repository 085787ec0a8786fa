package fpga

import "github.com/luxfi/bsfpga/pkg/fixed"

// D1D2Op holds the Black-Scholes inputs d1 and d2 depend on.
type D1D2Op struct {
	Spot       fixed.Value
	Strike     fixed.Value
	Time       fixed.Value
	Volatility fixed.Value
	Rate       fixed.Value
}

// D1D2Result holds d1, d2 and the sigma*sqrt(T) term between them.
type D1D2Result struct {
	D1       fixed.Value
	D2       fixed.Value
	SigmaRtT fixed.Value
	LogMoney fixed.Value // ln(S0/K)
	Err      error       // divider or domain error from a sub-engine
}

type d1d2State uint8

const (
	d1d2Idle d1d2State = iota
	d1d2Start
	d1d2Gather
	d1d2Divide
)

// D1D2Engine sequences a divider, a square root and a log engine:
//
//	ratio = S0/K and sqrt(T) run side by side; ln(ratio) starts once the
//	ratio is latched. With all three latched:
//	d1 = (ln(S0/K) + (r + sigma^2/2)*T) / (sigma*sqrt(T)), d2 = d1 - sigma*sqrt(T)
//
// Each sub-engine result is latched once, on its own completion, and held
// until the stage that needs it consumes it.
type D1D2Engine struct {
	port[D1D2Op, D1D2Result]
	format fixed.Format

	div  *DividerEngine
	sqrt *SqrtEngine
	log  *LogEngine

	state d1d2State

	ratio     fixed.Value
	rootT     fixed.Value
	lnRatio   fixed.Value
	sigmaRtT  fixed.Value
	haveRatio bool
	haveRootT bool
	haveLn    bool
}

var _ Unit[D1D2Op, D1D2Result] = (*D1D2Engine)(nil)

// NewD1D2Engine creates an idle d1/d2 engine with its own sub-engines
func NewD1D2Engine(f fixed.Format) *D1D2Engine {
	return &D1D2Engine{
		format: f,
		div:    NewDividerEngine(f),
		sqrt:   NewSqrtEngine(f),
		log:    NewLogEngine(f),
	}
}

// Submit starts a d1/d2 computation if the engine is idle
func (e *D1D2Engine) Submit(op D1D2Op) bool {
	if !e.accept(op) {
		return false
	}
	e.state = d1d2Start
	return true
}

// Reset forces the engine and its sub-engines idle
func (e *D1D2Engine) Reset() {
	e.clear()
	e.div.Reset()
	e.sqrt.Reset()
	e.log.Reset()
	e.haveRatio, e.haveRootT, e.haveLn = false, false, false
	e.state = d1d2Idle
}

// Tick advances the sub-engines, then this engine
func (e *D1D2Engine) Tick() {
	e.div.Tick()
	e.sqrt.Tick()
	e.log.Tick()

	switch e.state {
	case d1d2Start:
		// A failed run can leave sub-engines mid-flight.
		e.div.Reset()
		e.sqrt.Reset()
		e.log.Reset()
		e.haveRatio, e.haveRootT, e.haveLn = false, false, false
		e.div.Submit(DivOp{A: e.op.Spot, B: e.op.Strike})
		e.sqrt.Submit(SqrtOp{X: e.op.Time})
		e.state = d1d2Gather

	case d1d2Gather:
		e.gather()

	case d1d2Divide:
		res, ok := e.div.Result()
		if !ok {
			return
		}
		if res.Err != nil {
			e.fail(res.Err)
			return
		}
		d1 := res.Quotient
		e.done(D1D2Result{
			D1:       d1,
			D2:       e.format.Wrap(d1 - e.sigmaRtT),
			SigmaRtT: e.sigmaRtT,
			LogMoney: e.lnRatio,
		})
	}
}

func (e *D1D2Engine) gather() {
	if !e.haveRatio {
		if res, ok := e.div.Result(); ok {
			if res.Err != nil {
				e.fail(res.Err)
				return
			}
			e.ratio = res.Quotient
			e.haveRatio = true
			e.log.Submit(LogOp{X: e.ratio})
		}
	}
	if !e.haveRootT {
		if res, ok := e.sqrt.Result(); ok {
			if res.Err != nil {
				e.fail(res.Err)
				return
			}
			e.rootT = res.Root
			e.haveRootT = true
		}
	}
	if e.haveRatio && !e.haveLn {
		if res, ok := e.log.Result(); ok {
			if res.Err != nil {
				e.fail(res.Err)
				return
			}
			e.lnRatio = res.Value
			e.haveLn = true
		}
	}
	if !(e.haveRatio && e.haveRootT && e.haveLn) {
		return
	}

	f := e.format
	sigma, t := e.op.Volatility, e.op.Time
	e.sigmaRtT = f.Mul(sigma, e.rootT, fixed.Truncate)
	sigma2 := f.Mul(sigma, sigma, fixed.Truncate)
	drift := f.Mul(f.Wrap(e.op.Rate+sigma2>>1), t, fixed.Truncate)
	numerator := f.Wrap(e.lnRatio + drift)

	e.div.Submit(DivOp{A: numerator, B: e.sigmaRtT})
	e.state = d1d2Divide
}

func (e *D1D2Engine) fail(err error) {
	e.done(D1D2Result{Err: err})
}

func (e *D1D2Engine) done(r D1D2Result) {
	e.state = d1d2Idle
	e.finish(r)
}
