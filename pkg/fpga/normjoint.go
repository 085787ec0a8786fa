package fpga

import (
	"fmt"
	"strings"

	"github.com/luxfi/bsfpga/pkg/fixed"
)

// JointMode selects how NormJoint schedules its two CDF evaluations.
type JointMode int

const (
	// JointParallel runs Phi(d1) and Phi(d2) on two engine instances.
	JointParallel JointMode = iota
	// JointSerial reuses one instance, starting Phi(d2) only after the
	// instance has returned to idle.
	JointSerial
)

// String returns the mode name
func (m JointMode) String() string {
	if m == JointSerial {
		return "serial"
	}
	return "parallel"
}

// ParseJointMode parses a mode name
func ParseJointMode(name string) (JointMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "parallel":
		return JointParallel, nil
	case "serial":
		return JointSerial, nil
	}
	return 0, fmt.Errorf("unknown joint mode %q", name)
}

// JointOp carries the pair of CDF arguments.
type JointOp struct {
	D1 fixed.Value
	D2 fixed.Value
}

// JointResult carries Phi(d1) and Phi(d2).
type JointResult struct {
	Nd1 fixed.Value
	Nd2 fixed.Value
}

type jointState uint8

const (
	jointIdle jointState = iota
	jointStart
	jointWait
)

// NormJoint evaluates Phi(d1) and Phi(d2) and finishes once both are latched.
type NormJoint struct {
	port[JointOp, JointResult]
	mode   JointMode
	first  *NormalCDFEngine
	second *NormalCDFEngine // nil in serial mode

	state           jointState
	nd1, nd2        fixed.Value
	haveNd1         bool
	haveNd2         bool
	secondSubmitted bool
}

var _ Unit[JointOp, JointResult] = (*NormJoint)(nil)

// NewNormJoint creates an idle joint evaluator
func NewNormJoint(f fixed.Format, s CDFStrategy, mode JointMode) *NormJoint {
	j := &NormJoint{
		mode:  mode,
		first: NewNormalCDFEngine(f, s),
	}
	if mode == JointParallel {
		j.second = NewNormalCDFEngine(f, s)
	}
	return j
}

// Mode returns the scheduling mode
func (j *NormJoint) Mode() JointMode {
	return j.mode
}

// Submit starts a joint evaluation if idle
func (j *NormJoint) Submit(op JointOp) bool {
	if !j.accept(op) {
		return false
	}
	j.state = jointStart
	return true
}

// Reset forces the evaluator and its engines idle
func (j *NormJoint) Reset() {
	j.clear()
	j.first.Reset()
	if j.second != nil {
		j.second.Reset()
	}
	j.haveNd1, j.haveNd2, j.secondSubmitted = false, false, false
	j.state = jointIdle
}

// Tick advances the CDF engines, then this evaluator
func (j *NormJoint) Tick() {
	j.first.Tick()
	if j.second != nil {
		j.second.Tick()
	}

	switch j.state {
	case jointStart:
		j.haveNd1, j.haveNd2, j.secondSubmitted = false, false, false
		j.first.Submit(CDFOp{X: j.op.D1})
		if j.second != nil {
			j.second.Submit(CDFOp{X: j.op.D2})
			j.secondSubmitted = true
		}
		j.state = jointWait

	case jointWait:
		if j.mode == JointParallel {
			j.waitParallel()
		} else {
			j.waitSerial()
		}
		if j.haveNd1 && j.haveNd2 {
			j.state = jointIdle
			j.finish(JointResult{Nd1: j.nd1, Nd2: j.nd2})
		}
	}
}

func (j *NormJoint) waitParallel() {
	if !j.haveNd1 {
		if res, ok := j.first.Result(); ok {
			j.nd1, j.haveNd1 = res.Value, true
		}
	}
	if !j.haveNd2 {
		if res, ok := j.second.Result(); ok {
			j.nd2, j.haveNd2 = res.Value, true
		}
	}
}

func (j *NormJoint) waitSerial() {
	switch {
	case !j.haveNd1:
		if res, ok := j.first.Result(); ok {
			j.nd1, j.haveNd1 = res.Value, true
		}
	case !j.secondSubmitted:
		// The instance is idle once its first result is consumed.
		if !j.first.Busy() && j.first.Submit(CDFOp{X: j.op.D2}) {
			j.secondSubmitted = true
		}
	case !j.haveNd2:
		if res, ok := j.first.Result(); ok {
			j.nd2, j.haveNd2 = res.Value, true
		}
	}
}
