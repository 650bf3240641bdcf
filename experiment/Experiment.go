// Package experiment implements functionality for running an
// experiment
package experiment

import (
	"github.com/samuelfneumann/gopolgrad/experiment/tracker"
	ts "github.com/samuelfneumann/gopolgrad/timestep"
)

// Experiment outlines structs that can run experiments. Experiments
// track environment TimeSteps, sending each TimeStep to registered
// tracker.Trackers, which cache data for later saving. The Save()
// method saves all cached data to disk, usually after the experiment
// has been run. The Run() method runs episodes until the maximum
// timestep limit is reached, and the RunEpisode() method runs a
// single episode.
type Experiment interface {
	Run() error
	RunEpisode() (bool, error) // Returns whether the step limit was hit

	// Save all tracked data to disk
	Save() error

	// Register adds a tracker.Tracker to the (possibly already
	// running) experiment. Useful to track data only after a
	// specified event.
	Register(t tracker.Tracker)

	// track sends the current timestep to all registered Trackers
	track(ts.TimeStep)
}
