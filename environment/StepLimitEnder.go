package environment

import "github.com/samuelfneumann/gopolgrad/timestep"

// StepLimit implements the Ender interface to end episodes at specific
// timestep limits. Episodes ended by a StepLimit are cutoffs, not
// terminations: the timestep's discount is left untouched so that
// agents may still bootstrap from the final state.
type StepLimit struct {
	episodeSteps int
}

// NewStepLimit creates and returns a new step limit
func NewStepLimit(episodeSteps int) StepLimit {
	return StepLimit{episodeSteps}
}

// End determines whether or not the current episode should be ended,
// returning a boolean to indicate episode termination. If the episode
// should be ended End() will modify the timestep so that its StepType
// field is timestep.Last
func (s StepLimit) End(t *timestep.TimeStep) bool {
	if t.Number >= s.episodeSteps {
		t.StepType = timestep.Last
		return true
	}
	return false
}
