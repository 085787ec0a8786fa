package api

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/luxfi/bsfpga/pkg/fixed"
	"github.com/luxfi/bsfpga/pkg/fpga"
)

// DecimalPlaces is the precision of decimal strings in responses
const DecimalPlaces = 6

// PriceParams is one pricing request on the wire. Numbers are decimal
// strings so no float rounding happens before fixed-point encoding.
type PriceParams struct {
	Spot       decimal.Decimal `json:"spot"`
	Strike     decimal.Decimal `json:"strike"`
	Time       decimal.Decimal `json:"time"`
	Volatility decimal.Decimal `json:"volatility"`
	Rate       decimal.Decimal `json:"rate"`
	Type       string          `json:"type,omitempty"` // "call" (default) or "put"
}

// PriceResult is a pricing outcome on the wire
type PriceResult struct {
	Price    string `json:"price,omitempty"`
	Call     string `json:"call,omitempty"`
	Put      string `json:"put,omitempty"`
	D1       string `json:"d1,omitempty"`
	D2       string `json:"d2,omitempty"`
	Nd1      string `json:"nd1,omitempty"`
	Nd2      string `json:"nd2,omitempty"`
	Discount string `json:"discount,omitempty"`
	Ticks    uint64 `json:"ticks"`
	Error    string `json:"error,omitempty"`
}

// D1D2Result is the pricer.d1d2 response
type D1D2Result struct {
	D1       string `json:"d1"`
	D2       string `json:"d2"`
	SigmaRtT string `json:"sigmaSqrtT"`
	LogMoney string `json:"logMoneyness"`
	Ticks    int    `json:"ticks"`
}

// CDFParams is the pricer.cdf request
type CDFParams struct {
	X        decimal.Decimal `json:"x"`
	Strategy string          `json:"strategy,omitempty"`
}

// CDFResult is the pricer.cdf response
type CDFResult struct {
	Value    string `json:"value"`
	Strategy string `json:"strategy"`
	Ticks    int    `json:"ticks"`
}

// StatsResult is the pricer.stats response
type StatsResult struct {
	Format    string                 `json:"format"`
	Strategy  string                 `json:"strategy"`
	Joint     string                 `json:"joint"`
	Devices   int                    `json:"devices"`
	Busy      int                    `json:"busy"`
	CacheHits uint64                 `json:"cacheHits"`
	Total     DeviceStats            `json:"total"`
	PerDevice map[string]DeviceStats `json:"perDevice"`
}

// DeviceStats mirrors fpga.Stats on the wire
type DeviceStats struct {
	Requests  uint64 `json:"requests"`
	Completed uint64 `json:"completed"`
	Errors    uint64 `json:"errors"`
	AvgTicks  uint64 `json:"avgTicks"`
	MinTicks  uint64 `json:"minTicks"`
	MaxTicks  uint64 `json:"maxTicks"`
}

func newDeviceStats(s fpga.Stats) DeviceStats {
	return DeviceStats{
		Requests:  s.Requests,
		Completed: s.Completed,
		Errors:    s.Errors,
		AvgTicks:  s.AvgTicks(),
		MinTicks:  s.MinTicks,
		MaxTicks:  s.MaxTicks,
	}
}

// ParseOptionType parses "call" or "put"; empty means call
func ParseOptionType(s string) (fpga.OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "call", "c":
		return fpga.Call, nil
	case "put", "p":
		return fpga.Put, nil
	}
	return 0, fmt.Errorf("unknown option type %q", s)
}

// Encode converts the params into a raw pipeline request
func (p PriceParams) Encode(f fixed.Format) (fpga.PricingRequest, error) {
	typ, err := ParseOptionType(p.Type)
	if err != nil {
		return fpga.PricingRequest{}, err
	}
	req := fpga.PricingRequest{Type: typ}
	fields := []struct {
		name string
		in   decimal.Decimal
		out  *fixed.Value
	}{
		{"spot", p.Spot, &req.Spot},
		{"strike", p.Strike, &req.Strike},
		{"time", p.Time, &req.Time},
		{"volatility", p.Volatility, &req.Volatility},
		{"rate", p.Rate, &req.Rate},
	}
	for _, fld := range fields {
		v, err := f.FromDecimal(fld.in)
		if err != nil {
			return fpga.PricingRequest{}, fmt.Errorf("%s: %w", fld.name, err)
		}
		*fld.out = v
	}
	return req, nil
}

// NewPriceResult renders a pipeline result
func NewPriceResult(f fixed.Format, res fpga.PricingResult) PriceResult {
	if res.Err != nil {
		return PriceResult{Ticks: res.Ticks, Error: res.Err.Error()}
	}
	s := func(v fixed.Value) string { return f.StringFixed(v, DecimalPlaces) }
	return PriceResult{
		Price:    s(res.Price),
		Call:     s(res.Call),
		Put:      s(res.Put),
		D1:       s(res.D1),
		D2:       s(res.D2),
		Nd1:      s(res.Nd1),
		Nd2:      s(res.Nd2),
		Discount: s(res.Discount),
		Ticks:    res.Ticks,
	}
}
