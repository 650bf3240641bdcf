// Package environment outlines the interfaces and structs needed to implement
// concrete environments
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gopolgrad/timestep"
)

// Starter implements a distribution of starting states and samples starting
// states for environments
type Starter interface {
	Start() mat.Vector
}

// Ender determines when and how episodes end
type Ender interface {
	// End takes the most recent timestep, modifies it in-place if the
	// episode has ended, and returns whether the episode has ended
	End(*timestep.TimeStep) bool
}

// Task implements the reward scheme for taking actions in some
// environment, as well as the starting and ending conditions of
// episodes on that task
type Task interface {
	Starter
	Ender
	GetReward(state, action, nextState mat.Vector) float64
	AtGoal(state mat.Matrix) bool
	Min() float64 // returns the min possible reward
	Max() float64 // returns the max possible reward
	RewardSpec() Spec
}

// Environment implements a simulated environment, which includes a
// Task to complete
type Environment interface {
	Task
	Reset() timestep.TimeStep // Resets between episodes
	Step(action mat.Vector) (timestep.TimeStep, bool)
	DiscountSpec() Spec
	ObservationSpec() Spec
	ActionSpec() Spec
}
