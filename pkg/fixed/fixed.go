// Package fixed implements the signed two's-complement fixed-point words the
// pricing engines compute with. A Format describes a W-bit word with F
// fractional bits; the default Q16.16 format is a 32-bit word scaled by 2^16.
package fixed

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Value is the raw two's-complement representation of a fixed-point number.
// Its numeric value is Value / 2^Frac for the Format it belongs to.
type Value int64

// Rounding selects how the low bits of a widened product are discarded.
type Rounding int

const (
	// Truncate shifts the product right arithmetically (floor).
	Truncate Rounding = iota
	// RoundNearest adds half an LSB before shifting.
	RoundNearest
)

// String returns the rounding mode name
func (r Rounding) String() string {
	switch r {
	case Truncate:
		return "truncate"
	case RoundNearest:
		return "round-nearest"
	default:
		return fmt.Sprintf("rounding(%d)", int(r))
	}
}

var (
	ErrFormat = errors.New("fixed: invalid format")
	ErrRange  = errors.New("fixed: value out of range")
)

// Format describes a fixed-point word layout.
type Format struct {
	Width uint // total bits including sign
	Frac  uint // fractional bits
}

// Q16_16 is the 32-bit word with 16 fractional bits used by default.
var Q16_16 = Format{Width: 32, Frac: 16}

// Validate reports whether the format can be computed with. Widened products
// of two words must fit in an int64, which bounds Width at 32.
func (f Format) Validate() error {
	switch {
	case f.Frac < 1:
		return fmt.Errorf("%w: need at least one fractional bit", ErrFormat)
	case f.Width <= f.Frac+1:
		return fmt.Errorf("%w: width %d leaves no integer bits over %d fractional bits", ErrFormat, f.Width, f.Frac)
	case f.Width > 32:
		return fmt.Errorf("%w: width %d exceeds 32 bits", ErrFormat, f.Width)
	}
	return nil
}

// String returns the Qm.n name of the format
func (f Format) String() string {
	return fmt.Sprintf("Q%d.%d", f.Width-f.Frac, f.Frac)
}

// One returns the raw encoding of 1.0
func (f Format) One() Value { return Value(1) << f.Frac }

// Half returns the raw encoding of 0.5
func (f Format) Half() Value { return Value(1) << (f.Frac - 1) }

// Min returns the most negative representable value. It has no positive
// counterpart.
func (f Format) Min() Value { return -(Value(1) << (f.Width - 1)) }

// Max returns the largest representable value
func (f Format) Max() Value { return Value(1)<<(f.Width-1) - 1 }

// FromInt encodes an integer. The result wraps if n is out of range.
func (f Format) FromInt(n int64) Value {
	return f.Wrap(Value(n) << f.Frac)
}

// Wrap sign-extends the low Width bits of x, discarding everything above them
// the way a W-bit register does.
func (f Format) Wrap(x Value) Value {
	shift := 64 - f.Width
	return Value(int64(x)<<shift) >> shift
}

// Mul multiplies two fixed-point values through a widened intermediate and
// shifts the product back down by Frac bits.
func (f Format) Mul(a, b Value, mode Rounding) Value {
	p := int64(a) * int64(b)
	if mode == RoundNearest {
		p += int64(1) << (f.Frac - 1)
	}
	return f.Wrap(Value(p >> f.Frac))
}

// MulWide returns the full widened product of a and b without rescaling.
func (f Format) MulWide(a, b Value) int64 {
	return int64(a) * int64(b)
}

// Float64 converts v for display and test comparison only; no engine consumes
// floating-point values.
func (f Format) Float64(v Value) float64 {
	return float64(v) / float64(int64(1)<<f.Frac)
}

// FromDecimal encodes d, rounding half away from zero at the LSB.
func (f Format) FromDecimal(d decimal.Decimal) (Value, error) {
	scaled := d.Mul(decimal.NewFromInt(int64(1) << f.Frac)).Round(0)
	if scaled.LessThan(decimal.NewFromInt(int64(f.Min()))) || scaled.GreaterThan(decimal.NewFromInt(int64(f.Max()))) {
		return 0, fmt.Errorf("%w: %s does not fit %s", ErrRange, d, f)
	}
	return Value(scaled.IntPart()), nil
}

// ParseDecimal parses a decimal string and encodes it.
func (f Format) ParseDecimal(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return f.FromDecimal(d)
}

// ToDecimal decodes v exactly; Frac fractional bits always have a finite
// decimal expansion.
func (f Format) ToDecimal(v Value) decimal.Decimal {
	return decimal.NewFromInt(int64(v)).Div(decimal.NewFromInt(int64(1) << f.Frac))
}

// StringFixed formats v with the given number of decimal places.
func (f Format) StringFixed(v Value, places int32) string {
	return f.ToDecimal(v).StringFixed(places)
}
