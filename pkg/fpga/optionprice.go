package fpga

import "github.com/luxfi/bsfpga/pkg/fixed"

// OptionOp carries the inputs of the final pricing stage.
type OptionOp struct {
	Rate   fixed.Value
	Time   fixed.Value
	Spot   fixed.Value
	Strike fixed.Value
	Nd1    fixed.Value
	Nd2    fixed.Value
	Type   OptionType
}

// OptionResult holds both legs and the one selected by the op type.
type OptionResult struct {
	Discount fixed.Value // e^{-rT}
	Call     fixed.Value
	Put      fixed.Value
	Price    fixed.Value
}

type optionState uint8

const (
	optionIdle optionState = iota
	optionStart
	optionDiscount
	optionCombine
)

// OptionPriceEngine combines the discount factor with N(d1), N(d2):
//
//	Ke_rt = K * e^{-rT}
//	call  = S*N(d1) - Ke_rt*N(d2)
//	put   = Ke_rt - S*N(d1)
//
// The put leg is Ke_rt - S*N(d1) as the accelerator defines it, not the
// put-call parity price Ke_rt*(1-N(d2)) - S*(1-N(d1)).
type OptionPriceEngine struct {
	port[OptionOp, OptionResult]
	format fixed.Format
	exp    *ExpEngine

	state    optionState
	discount fixed.Value
}

var _ Unit[OptionOp, OptionResult] = (*OptionPriceEngine)(nil)

// NewOptionPriceEngine creates an idle pricing engine with its own ExpEngine
func NewOptionPriceEngine(f fixed.Format) *OptionPriceEngine {
	return &OptionPriceEngine{format: f, exp: NewExpEngine(f)}
}

// Submit starts a pricing if the engine is idle
func (o *OptionPriceEngine) Submit(op OptionOp) bool {
	if !o.accept(op) {
		return false
	}
	o.state = optionStart
	return true
}

// Reset forces the engine idle
func (o *OptionPriceEngine) Reset() {
	o.clear()
	o.exp.Reset()
	o.state = optionIdle
}

// Tick advances the exponential engine, then this engine
func (o *OptionPriceEngine) Tick() {
	o.exp.Tick()

	f := o.format
	switch o.state {
	case optionStart:
		o.exp.Reset()
		o.exp.Submit(ExpOp{X: f.Mul(o.op.Rate, o.op.Time, fixed.Truncate)})
		o.state = optionDiscount

	case optionDiscount:
		if res, ok := o.exp.Result(); ok {
			o.discount = res.Value
			o.state = optionCombine
		}

	case optionCombine:
		op := o.op
		keRT := f.Mul(op.Strike, o.discount, fixed.Truncate)
		spotNd1 := f.Mul(op.Spot, op.Nd1, fixed.Truncate)
		keRTNd2 := f.Mul(keRT, op.Nd2, fixed.Truncate)
		r := OptionResult{
			Discount: o.discount,
			Call:     f.Wrap(spotNd1 - keRTNd2),
			Put:      f.Wrap(keRT - spotNd1),
		}
		r.Price = r.Call
		if op.Type == Put {
			r.Price = r.Put
		}
		o.state = optionIdle
		o.finish(r)
	}
}
