package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gopolgrad/timestep"
)

// FunctionEnder ends an episode whenever a function of a vector
// (usually the underlying environment state) returns true. If terminal
// is true, the episode end is treated as entering an absorbing state
// and the final timestep's discount is set to 0.
type FunctionEnder struct {
	end      func(mat.Vector) bool
	terminal bool
}

// NewFunctionEnder returns a new FunctionEnder which ends episodes
// when f returns true.
func NewFunctionEnder(f func(mat.Vector) bool, terminal bool) Ender {
	return &FunctionEnder{f, terminal}
}

// End determines whether or not the current episode should be ended,
// returning a boolean to indicate episode termination. If the episode
// should be ended, End() will modify the timestep so that its StepType
// field is timestep.Last, zeroing the discount on terminal ends.
func (f *FunctionEnder) End(t *timestep.TimeStep) bool {
	if f.end(t.Observation) {
		t.StepType = timestep.Last
		if f.terminal {
			t.Discount = 0
		}
		return true
	}
	return false
}
