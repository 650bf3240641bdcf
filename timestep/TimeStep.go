// Package timestep implements timesteps of the agent-environment interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be: the first
// step in an episode, a middle step, or the last step.
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	StepType    StepType
	Reward      float64
	Discount    float64
	Observation mat.Vector
	Number      int
}

// New constructs a new TimeStep
func New(t StepType, reward, discount float64, obs mat.Vector,
	number int) TimeStep {
	return TimeStep{t, reward, discount, obs, number}
}

// First returns whether a TimeStep is the first in an episode
func (t *TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an episode
func (t *TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an episode
func (t *TimeStep) Last() bool {
	return t.StepType == Last
}

// TerminalEnd returns whether a TimeStep ends an episode in an
// absorbing state. Episodes cut off by a timeout end with a Last
// timestep but a non-zero discount; those are not terminal ends, and
// value bootstrapping should still occur from them.
func (t *TimeStep) TerminalEnd() bool {
	return t.Last() && t.Discount == 0.0
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Discount: %.2f  |  " +
		"Step Number:  %v"

	return fmt.Sprintf(str, t.StepType, t.Reward, t.Discount, t.Number)
}

// Transition packages together a single environmental transition
// (S, A, R, S') with a flag denoting whether S' is an absorbing,
// terminal state.
type Transition struct {
	State     mat.Vector
	Action    mat.Vector
	Reward    float64
	NextState mat.Vector
	Terminal  bool
}

// NewTransition constructs a Transition from two consecutive timesteps
// and the action that led from the first to the second.
func NewTransition(step TimeStep, action mat.Vector,
	nextStep TimeStep) Transition {
	return Transition{
		State:     step.Observation,
		Action:    action,
		Reward:    nextStep.Reward,
		NextState: nextStep.Observation,
		Terminal:  nextStep.TerminalEnd(),
	}
}
