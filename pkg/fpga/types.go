// Package fpga models the fixed-point Black-Scholes accelerator as a network
// of clocked engines. Every engine is a state machine advanced by Tick; work
// is accepted through Submit and completion is observed through Done/Result.
package fpga

import (
	"errors"

	"github.com/luxfi/bsfpga/pkg/fixed"
)

var (
	ErrDivideByZero = errors.New("divide by zero")
	ErrOverflow     = errors.New("overflow")
	ErrDomain       = errors.New("operand outside engine domain")
	ErrBusy         = errors.New("engine busy")
	ErrTickLimit    = errors.New("tick limit exceeded")
)

// Ticker is anything advanced by the global clock.
type Ticker interface {
	Tick()
}

// Unit is the handshake every engine exposes.
//
// Submit accepts an operation only when the unit is idle and its previous
// result has been consumed. Once accepted the unit is busy until it finishes;
// the finished result stays pending until Result consumes it. Reset forces
// the unit idle and drops any pending result.
type Unit[Op, R any] interface {
	Ticker
	Submit(op Op) bool
	Result() (R, bool)
	Busy() bool
	Done() bool
	Reset()
}

// port holds the handshake state shared by all engines.
type port[Op, R any] struct {
	op      Op // operands latched on accept
	busy    bool
	pending bool
	result  R
}

func (p *port[Op, R]) accept(op Op) bool {
	if p.busy || p.pending {
		return false
	}
	p.op = op
	p.busy = true
	return true
}

func (p *port[Op, R]) finish(r R) {
	p.result = r
	p.busy = false
	p.pending = true
}

func (p *port[Op, R]) take() (R, bool) {
	if !p.pending {
		var zero R
		return zero, false
	}
	p.pending = false
	return p.result, true
}

func (p *port[Op, R]) clear() {
	var (
		op Op
		r  R
	)
	p.op = op
	p.result = r
	p.busy = false
	p.pending = false
}

// Busy reports whether an accepted operation is still running
func (p *port[Op, R]) Busy() bool { return p.busy }

// Done reports whether a finished result is waiting to be consumed
func (p *port[Op, R]) Done() bool { return p.pending }

// Result consumes the pending result
func (p *port[Op, R]) Result() (R, bool) { return p.take() }

// OptionType selects which leg the pricing pipeline reports.
type OptionType uint8

const (
	Call OptionType = iota
	Put
)

// String returns the option type name
func (t OptionType) String() string {
	if t == Put {
		return "put"
	}
	return "call"
}

// PricingRequest is one pipeline run. All operands are raw fixed-point
// values in the pipeline's format.
type PricingRequest struct {
	Spot       fixed.Value // S0
	Strike     fixed.Value // K
	Time       fixed.Value // T in years
	Volatility fixed.Value // sigma
	Rate       fixed.Value // r
	Type       OptionType
}

// PricingResult carries the final price and every intermediate the pipeline
// computed on the way.
type PricingResult struct {
	D1       fixed.Value
	D2       fixed.Value
	Nd1      fixed.Value
	Nd2      fixed.Value
	Discount fixed.Value // e^{-rT}
	Call     fixed.Value
	Put      fixed.Value
	Price    fixed.Value // Call or Put, per the request type
	Ticks    uint64      // clock ticks from accept to finish
	Err      error       // first stage error, if any
}

// Valid reports whether the run produced a price
func (r PricingResult) Valid() bool { return r.Err == nil }

// Stats tracks per-device activity
type Stats struct {
	// Core counters
	Requests  uint64
	Completed uint64
	Errors    uint64

	// Tick accounting
	TotalTicks uint64
	MinTicks   uint64
	MaxTicks   uint64
}

// AvgTicks returns the mean ticks per completed run
func (s Stats) AvgTicks() uint64 {
	if s.Completed == 0 {
		return 0
	}
	return s.TotalTicks / s.Completed
}

func (s *Stats) record(r PricingResult) {
	s.Completed++
	if r.Err != nil {
		s.Errors++
	}
	s.TotalTicks += r.Ticks
	if s.MinTicks == 0 || r.Ticks < s.MinTicks {
		s.MinTicks = r.Ticks
	}
	if r.Ticks > s.MaxTicks {
		s.MaxTicks = r.Ticks
	}
}
