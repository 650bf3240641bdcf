package tracker

import (
	"fmt"

	ts "github.com/samuelfneumann/gopolgrad/timestep"
)

// Return tracks and saves the episodic return in an experiment. When
// an environment returns a TimeStep, this Tracker will extract the
// reward and accumulate the return for each episode in the experiment.
//
// Note: An episode must finish for this Tracker to save its data.
// If the last episode in an experiment does not finish, that episode's
// return will not be saved.
type Return struct {
	lastTimeStep   int
	currentReturn  float64
	episodeReturns []float64
	filename       string
}

// NewReturn creates and returns a new *Return Tracker which will save
// its data at the specified location filename.
func NewReturn(filename string) Tracker {
	var t Return
	t.lastTimeStep = -1
	t.filename = filename
	return &t
}

// Track tracks the rewards seen on a timestep. By calling this method
// on every timestep, the Tracker will accumulate the return of the
// current episode. When a new episode starts, this method will
// automatically detect this and start accumulating the rewards for the
// new episode separately from previous episodes.
//
// Track panics if it is called for non-sequential timesteps.
func (r *Return) Track(step ts.TimeStep) {
	if r.lastTimeStep+1 != step.Number {
		msg := fmt.Sprintf("track: last two timesteps tracked are not "+
			"sequential: timestep %v --> timestep %v were tracked",
			r.lastTimeStep, step.Number)
		panic(msg)
	}

	r.currentReturn += step.Reward
	if !step.Last() {
		r.lastTimeStep = step.Number
	} else {
		// Episode has ended, cache the return and begin tracking the
		// return of the next episode
		r.episodeReturns = append(r.episodeReturns, r.currentReturn)
		r.currentReturn = 0.0
		r.lastTimeStep = -1
	}
}

// Save saves the data tracked by the Return Tracker to disk.
func (r *Return) Save() error {
	return save(r.filename, r.episodeReturns)
}
