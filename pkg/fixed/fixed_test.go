package fixed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"Q16.16", Q16_16, false},
		{"Q8.16", Format{Width: 24, Frac: 16}, false},
		{"NoFraction", Format{Width: 32, Frac: 0}, true},
		{"NoIntegerBits", Format{Width: 17, Frac: 16}, true},
		{"TooWide", Format{Width: 48, Frac: 16}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFormat)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFormatConstants(t *testing.T) {
	f := Q16_16
	assert.Equal(t, Value(65536), f.One())
	assert.Equal(t, Value(32768), f.Half())
	assert.Equal(t, Value(-2147483648), f.Min())
	assert.Equal(t, Value(2147483647), f.Max())
	assert.Equal(t, Value(3*65536), f.FromInt(3))
	assert.Equal(t, "Q16.16", f.String())
}

func TestWrap(t *testing.T) {
	f := Q16_16
	assert.Equal(t, f.Min(), f.Wrap(f.Max()+1))
	assert.Equal(t, f.Max(), f.Wrap(f.Min()-1))
	assert.Equal(t, Value(-1), f.Wrap(0xFFFFFFFF))
	assert.Equal(t, Value(12345), f.Wrap(12345))

	narrow := Format{Width: 24, Frac: 16}
	assert.Equal(t, Value(-(1 << 23)), narrow.Wrap(1<<23))
}

func TestMul(t *testing.T) {
	f := Q16_16
	one := f.One()

	assert.Equal(t, 2*one, f.Mul(one, 2*one, Truncate))
	assert.Equal(t, -6*one, f.Mul(-2*one, 3*one, Truncate))
	assert.Equal(t, one/4, f.Mul(one/2, one/2, Truncate))

	// 1 LSB * 0.5 is half an LSB: truncation floors, rounding goes up.
	assert.Equal(t, Value(0), f.Mul(1, f.Half(), Truncate))
	assert.Equal(t, Value(1), f.Mul(1, f.Half(), RoundNearest))

	// Arithmetic shift floors negative products.
	assert.Equal(t, Value(-1), f.Mul(-1, f.Half(), Truncate))
	assert.Equal(t, Value(0), f.Mul(-1, f.Half(), RoundNearest))

	// 100 * 100 does not fit Q16.16 and wraps like a register would.
	assert.Equal(t, f.Wrap(10000*one), f.Mul(100*one, 100*one, Truncate))
}

func TestMulWideKeepsFullProduct(t *testing.T) {
	f := Q16_16
	got := f.MulWide(f.Max(), f.Max())
	assert.Equal(t, int64(f.Max())*int64(f.Max()), got)
}

func TestDecimalConversion(t *testing.T) {
	f := Q16_16

	v, err := f.ParseDecimal("1.5")
	require.NoError(t, err)
	assert.Equal(t, Value(98304), v)

	v, err = f.ParseDecimal("-0.25")
	require.NoError(t, err)
	assert.Equal(t, Value(-16384), v)

	v, err = f.FromDecimal(decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	assert.Equal(t, Value(3277), v)

	_, err = f.ParseDecimal("40000")
	assert.ErrorIs(t, err, ErrRange)

	_, err = f.ParseDecimal("not-a-number")
	assert.Error(t, err)

	assert.True(t, decimal.RequireFromString("1.5").Equal(f.ToDecimal(98304)))
	assert.Equal(t, "0.367889", f.StringFixed(24110, 6))
	assert.InDelta(t, 1.5, f.Float64(98304), 0)
}
