package fpga

import "github.com/luxfi/bsfpga/pkg/fixed"

// SqrtOp takes the square root of X.
type SqrtOp struct {
	X fixed.Value
}

// SqrtResult holds the truncated root and the integer remainder of
// (X << Frac) - Root^2.
type SqrtResult struct {
	Root      fixed.Value
	Remainder int64
	Err       error // ErrDomain for negative radicands
}

type sqrtState uint8

const (
	sqrtIdle sqrtState = iota
	sqrtStart
	sqrtIterate
	sqrtFix
)

// SqrtEngine is a non-restoring digit-recurrence square root. Each tick
// consumes two radicand bits and produces one root bit; a final tick restores
// a negative remainder.
type SqrtEngine struct {
	port[SqrtOp, SqrtResult]
	format fixed.Format

	state sqrtState
	rad   uint64
	root  int64
	rem   int64
	pair  int
}

var _ Unit[SqrtOp, SqrtResult] = (*SqrtEngine)(nil)

// NewSqrtEngine creates an idle square-root engine
func NewSqrtEngine(f fixed.Format) *SqrtEngine {
	return &SqrtEngine{format: f}
}

// Iterations returns the number of root bits produced per operation
func (s *SqrtEngine) Iterations() int {
	return int(s.format.Width+s.format.Frac+1) / 2
}

// Submit starts a square root if the engine is idle
func (s *SqrtEngine) Submit(op SqrtOp) bool {
	if !s.accept(op) {
		return false
	}
	s.state = sqrtStart
	return true
}

// Reset forces the engine idle
func (s *SqrtEngine) Reset() {
	s.clear()
	s.state = sqrtIdle
}

// Tick advances the engine one step
func (s *SqrtEngine) Tick() {
	switch s.state {
	case sqrtStart:
		if s.op.X < 0 {
			s.state = sqrtIdle
			s.finish(SqrtResult{Err: ErrDomain})
			return
		}
		s.rad = uint64(s.op.X) << s.format.Frac
		s.root, s.rem = 0, 0
		s.pair = s.Iterations() - 1
		s.state = sqrtIterate

	case sqrtIterate:
		digits := int64((s.rad >> uint(2*s.pair)) & 3)
		if s.rem >= 0 {
			s.rem = s.rem<<2 | digits
			s.rem -= s.root<<2 | 1
		} else {
			s.rem = s.rem<<2 | digits
			s.rem += s.root<<2 | 3
		}
		if s.rem >= 0 {
			s.root = s.root<<1 | 1
		} else {
			s.root <<= 1
		}
		s.pair--
		if s.pair < 0 {
			s.state = sqrtFix
		}

	case sqrtFix:
		if s.rem < 0 {
			s.rem += s.root<<1 | 1
		}
		s.state = sqrtIdle
		s.finish(SqrtResult{Root: fixed.Value(s.root), Remainder: s.rem})
	}
}
