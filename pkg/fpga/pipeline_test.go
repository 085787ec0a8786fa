package fpga

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/luxfi/bsfpga/pkg/fixed"
)

type bsCase struct {
	s, k, tm, sigma, r float64
}

func (c bsCase) request(typ OptionType) PricingRequest {
	return PricingRequest{
		Spot:       q(c.s),
		Strike:     q(c.k),
		Time:       q(c.tm),
		Volatility: q(c.sigma),
		Rate:       q(c.r),
		Type:       typ,
	}
}

// float reference, with the put leg computed the way the pipeline defines it
func (c bsCase) reference() (call, put float64) {
	srt := c.sigma * math.Sqrt(c.tm)
	d1 := (math.Log(c.s/c.k) + (c.r+c.sigma*c.sigma/2)*c.tm) / srt
	d2 := d1 - srt
	keRT := c.k * math.Exp(-c.r*c.tm)
	n := distuv.UnitNormal
	call = c.s*n.CDF(d1) - keRT*n.CDF(d2)
	put = keRT - c.s*n.CDF(d1)
	return call, put
}

var bsCases = []bsCase{
	{100, 100, 1, 0.2, 0.05},
	{100, 90, 0.5, 0.25, 0.03},
	{50, 55, 2, 0.3, 0.01},
	{100, 100, 0.25, 0.2, 0.05},
	{100, 120, 1, 0.2, 0.05},
	{1, 1, 1, 1, 1},
}

func newTestPipeline(t testing.TB, s CDFStrategy, mode JointMode) *Pipeline {
	t.Helper()
	cfg := DefaultPipelineConfig()
	cfg.Strategy = s
	cfg.Joint = mode
	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	return p
}

func TestPipelineMatchesBlackScholes(t *testing.T) {
	p := newTestPipeline(t, CDFRational, JointParallel)
	for _, c := range bsCases {
		call, put := c.reference()

		res, err := p.Price(c.request(Call))
		require.NoError(t, err)
		require.NoError(t, res.Err)
		assert.InDelta(t, call, fl(res.Call), 0.02, "%+v", c)
		assert.InDelta(t, put, fl(res.Put), 0.2, "%+v", c)
		assert.Equal(t, res.Call, res.Price)
		assert.NotZero(t, res.Ticks)

		res, err = p.Price(c.request(Put))
		require.NoError(t, err)
		assert.Equal(t, res.Put, res.Price)
	}
}

func TestPipelineIntermediates(t *testing.T) {
	p := newTestPipeline(t, CDFRational, JointParallel)
	res, err := p.Price(bsCases[0].request(Call))
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Equal(t, fixed.Value(22935), res.D1)
	assert.Equal(t, fixed.Value(9828), res.D2)
	assert.Equal(t, fixed.Value(41736), res.Nd1)
	assert.Equal(t, fixed.Value(36676), res.Nd2)
	assert.Equal(t, fixed.Value(62339), res.Discount)
}

func TestPipelineStrategies(t *testing.T) {
	tolerances := map[CDFStrategy]float64{
		CDFRational: 0.02,
		CDFTable:    0.1,
		CDFQuartic:  1.0,
	}
	for s, tol := range tolerances {
		t.Run(s.String(), func(t *testing.T) {
			p := newTestPipeline(t, s, JointParallel)
			for _, c := range bsCases[:4] {
				call, _ := c.reference()
				res, err := p.Price(c.request(Call))
				require.NoError(t, err)
				require.NoError(t, res.Err)
				assert.InDelta(t, call, fl(res.Call), tol, "%+v", c)
			}
		})
	}
}

func TestPipelineSerialMatchesParallel(t *testing.T) {
	parallel := newTestPipeline(t, CDFRational, JointParallel)
	serial := newTestPipeline(t, CDFRational, JointSerial)

	for _, c := range bsCases {
		a, err := parallel.Price(c.request(Call))
		require.NoError(t, err)
		b, err := serial.Price(c.request(Call))
		require.NoError(t, err)

		assert.Less(t, a.Ticks, b.Ticks)
		a.Ticks, b.Ticks = 0, 0
		assert.Equal(t, a, b, "%+v", c)
	}
}

func TestPipelineIdempotent(t *testing.T) {
	p := newTestPipeline(t, CDFRational, JointParallel)
	req := bsCases[1].request(Put)

	first, err := p.Price(req)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := p.Price(req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	fresh := newTestPipeline(t, CDFRational, JointParallel)
	other, err := fresh.Price(req)
	require.NoError(t, err)
	assert.Equal(t, first, other)
}

func TestPipelineHandshake(t *testing.T) {
	p := newTestPipeline(t, CDFRational, JointParallel)
	req := bsCases[0].request(Call)

	require.True(t, p.Submit(req))
	assert.True(t, p.Busy())
	assert.False(t, p.Submit(bsCases[1].request(Call)))

	_, err := p.Price(req)
	assert.ErrorIs(t, err, ErrBusy)

	_, err = Drive(p, DefaultTickLimit)
	require.NoError(t, err)
	assert.True(t, p.Done())
	assert.False(t, p.Submit(req), "accepted while a result is pending")

	res, ok := p.Result()
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.InDelta(t, 10.45, fl(res.Call), 0.02)
}

func TestPipelineResetMidRun(t *testing.T) {
	p := newTestPipeline(t, CDFRational, JointParallel)
	want, err := p.Price(bsCases[2].request(Call))
	require.NoError(t, err)

	require.True(t, p.Submit(bsCases[0].request(Call)))
	for i := 0; i < 75; i++ {
		p.Tick()
	}
	p.Reset()
	assert.False(t, p.Busy())
	assert.False(t, p.Done())

	got, err := p.Price(bsCases[2].request(Call))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPipelineErrorPropagation(t *testing.T) {
	p := newTestPipeline(t, CDFRational, JointParallel)

	req := bsCases[0].request(Call)
	req.Strike = 0
	res, err := p.Price(req)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrDivideByZero)
	assert.False(t, res.Valid())
	assert.Zero(t, res.Price)

	req = bsCases[0].request(Call)
	req.Volatility = 0
	res, err = p.Price(req)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrDivideByZero)

	// The pipeline keeps working after a failed run.
	res, err = p.Price(bsCases[0].request(Call))
	require.NoError(t, err)
	assert.True(t, res.Valid())
}

func TestPipelineTickLimit(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.TickLimit = 10
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	_, err = p.Price(bsCases[0].request(Call))
	assert.ErrorIs(t, err, ErrTickLimit)
	assert.False(t, p.Busy(), "pipeline left busy after an aborted run")
}

func TestPipelineRejectsBadFormat(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.Format = fixed.Format{Width: 16, Frac: 16}
	_, err := NewPipeline(cfg)
	assert.ErrorIs(t, err, fixed.ErrFormat)
}

func TestClockDrivesSeveralUnits(t *testing.T) {
	d := NewDividerEngine(q16)
	s := NewSqrtEngine(q16)
	clk := NewClock(d)
	clk.Attach(s)

	require.True(t, d.Submit(DivOp{A: q(1), B: q(8)}))
	require.True(t, s.Submit(SqrtOp{X: q(16)}))

	n, err := clk.RunUntil(func() bool { return d.Done() && s.Done() }, 100)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, uint64(50), clk.Cycle())

	div, _ := d.Result()
	root, _ := s.Result()
	assert.Equal(t, q(0.125), div.Quotient)
	assert.Equal(t, q(4), root.Root)

	_, err = clk.RunUntil(d.Done, 5)
	assert.ErrorIs(t, err, ErrTickLimit)
}
