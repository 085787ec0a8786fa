package fpga

import (
	"fmt"

	"github.com/luxfi/bsfpga/pkg/fixed"
)

// DefaultTickLimit bounds a single pipeline run when driven synchronously.
const DefaultTickLimit = 10_000

// PipelineConfig selects the pipeline's word format and CDF scheduling.
type PipelineConfig struct {
	Format    fixed.Format
	Strategy  CDFStrategy
	Joint     JointMode
	TickLimit int
}

// DefaultPipelineConfig returns the Q16.16 rational/parallel configuration
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Format:    fixed.Q16_16,
		Strategy:  CDFRational,
		Joint:     JointParallel,
		TickLimit: DefaultTickLimit,
	}
}

type pipelineState uint8

const (
	pipeIdle pipelineState = iota
	pipeStart
	pipeD1D2
	pipeJoint
	pipePrice
)

// Pipeline is the top-level sequencer: D1D2Engine, then NormJoint, then
// OptionPriceEngine. Only one request is in flight at a time.
type Pipeline struct {
	port[PricingRequest, PricingResult]
	config PipelineConfig

	d1d2   *D1D2Engine
	joint  *NormJoint
	option *OptionPriceEngine

	state pipelineState
	ticks uint64
	out   PricingResult
}

var _ Unit[PricingRequest, PricingResult] = (*Pipeline)(nil)

// NewPipeline creates an idle pipeline
func NewPipeline(config PipelineConfig) (*Pipeline, error) {
	if err := config.Format.Validate(); err != nil {
		return nil, err
	}
	if config.TickLimit <= 0 {
		config.TickLimit = DefaultTickLimit
	}
	return &Pipeline{
		config: config,
		d1d2:   NewD1D2Engine(config.Format),
		joint:  NewNormJoint(config.Format, config.Strategy, config.Joint),
		option: NewOptionPriceEngine(config.Format),
	}, nil
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() PipelineConfig {
	return p.config
}

// Format returns the pipeline word format
func (p *Pipeline) Format() fixed.Format {
	return p.config.Format
}

// Submit accepts a request if no other request is in flight
func (p *Pipeline) Submit(req PricingRequest) bool {
	if !p.accept(req) {
		return false
	}
	p.state = pipeStart
	p.ticks = 0
	return true
}

// Reset forces the pipeline and every stage idle
func (p *Pipeline) Reset() {
	p.clear()
	p.d1d2.Reset()
	p.joint.Reset()
	p.option.Reset()
	p.state = pipeIdle
	p.ticks = 0
}

// Tick advances every stage, then the sequencer
func (p *Pipeline) Tick() {
	p.d1d2.Tick()
	p.joint.Tick()
	p.option.Tick()

	if p.state == pipeIdle {
		return
	}
	p.ticks++

	req := p.op
	switch p.state {
	case pipeStart:
		p.d1d2.Reset()
		p.joint.Reset()
		p.option.Reset()
		p.out = PricingResult{}
		p.d1d2.Submit(D1D2Op{
			Spot:       req.Spot,
			Strike:     req.Strike,
			Time:       req.Time,
			Volatility: req.Volatility,
			Rate:       req.Rate,
		})
		p.state = pipeD1D2

	case pipeD1D2:
		res, ok := p.d1d2.Result()
		if !ok {
			return
		}
		if res.Err != nil {
			p.fail(fmt.Errorf("d1/d2 stage: %w", res.Err))
			return
		}
		p.out.D1, p.out.D2 = res.D1, res.D2
		p.joint.Submit(JointOp{D1: res.D1, D2: res.D2})
		p.state = pipeJoint

	case pipeJoint:
		res, ok := p.joint.Result()
		if !ok {
			return
		}
		p.out.Nd1, p.out.Nd2 = res.Nd1, res.Nd2
		p.option.Submit(OptionOp{
			Rate:   req.Rate,
			Time:   req.Time,
			Spot:   req.Spot,
			Strike: req.Strike,
			Nd1:    res.Nd1,
			Nd2:    res.Nd2,
			Type:   req.Type,
		})
		p.state = pipePrice

	case pipePrice:
		res, ok := p.option.Result()
		if !ok {
			return
		}
		p.out.Discount = res.Discount
		p.out.Call = res.Call
		p.out.Put = res.Put
		p.out.Price = res.Price
		p.complete()
	}
}

func (p *Pipeline) fail(err error) {
	p.out.Err = err
	p.complete()
}

func (p *Pipeline) complete() {
	p.out.Ticks = p.ticks
	p.state = pipeIdle
	p.finish(p.out)
}

// Price submits req, drives the pipeline to completion and consumes the
// result. It fails with ErrBusy if a request is already in flight.
func (p *Pipeline) Price(req PricingRequest) (PricingResult, error) {
	if !p.Submit(req) {
		return PricingResult{}, ErrBusy
	}
	if _, err := Drive(p, p.config.TickLimit); err != nil {
		p.Reset()
		return PricingResult{}, err
	}
	res, _ := p.Result()
	return res, nil
}
