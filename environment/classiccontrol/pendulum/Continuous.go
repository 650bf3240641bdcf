package pendulum

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/timestep"
	"github.com/samuelfneumann/gopolgrad/utils/floatutils"
)

// Continuous implements the pendulum environment with continuous
// actions. Actions are 1-dimensional and determine the torque to apply
// to the pendulum at its fixed base. Actions are bounded by
// [-2, 2] = [MinContinuousAction, MaxContinuousAction]. Actions
// outside of this region are clipped to stay within these bounds.
//
// Continuous implements the environment.Environment interface
type Continuous struct {
	*base
}

// NewContinuous creates and returns a new Continuous environment
func NewContinuous(t environment.Task, discount float64) (*Continuous,
	timestep.TimeStep) {
	baseEnv, firstStep := newBase(t, discount)

	pendulum := Continuous{baseEnv}

	return &pendulum, firstStep
}

// Step takes one environmental step given action a and returns the next
// timestep as a timestep.TimeStep and a bool indicating whether or not
// the episode has ended. Actions are 1-dimensional and continuous,
// consisting of the torque to apply at the pendulum's base. Actions
// outside the legal range of [-2, 2] are clipped to stay within this
// range.
func (p *Continuous) Step(action mat.Vector) (timestep.TimeStep, bool) {
	// Ensure action is 1-dimensional
	if action.Len() > ActionDims {
		panic("Actions should be 1-dimensional")
	}

	// Clip action to ensure that it is in the legal range of continuous
	// actions
	torque := floatutils.Clip(action.AtVec(0), MinContinuousAction,
		MaxContinuousAction)

	// Calculate the next state given the torque/action
	nextState := p.nextState(p.lastStep, torque)

	// Update the embedded base environment
	nextStep, last := p.update(action, nextState)

	return nextStep, last
}

// ActionSpec returns the action specification of the environment
func (p *Continuous) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(ActionDims, nil)

	minAction, maxAction := p.torqueBounds.Min, p.torqueBounds.Max
	lowerBound := mat.NewVecDense(ActionDims, []float64{minAction})
	upperBound := mat.NewVecDense(ActionDims, []float64{maxAction})

	return environment.NewSpec(shape, environment.Action, lowerBound,
		upperBound, environment.Continuous)
}

// String converts the environment to a string representation
func (p *Continuous) String() string {
	str := "Continuous  |  theta: %v  |  theta dot: %v\n"
	theta := p.lastStep.Observation.AtVec(0)
	thetadot := p.lastStep.Observation.AtVec(1)

	return fmt.Sprintf(str, theta, thetadot)
}
