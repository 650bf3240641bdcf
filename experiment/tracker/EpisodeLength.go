package tracker

import (
	ts "github.com/samuelfneumann/gopolgrad/timestep"
)

// EpisodeLength tracks and saves the lengths of episodes in an
// experiment.
//
// Note: an episode must finish for this Tracker to save its data.
// If the last episode in an experiment does not finish, that episode's
// length will not be saved.
type EpisodeLength struct {
	episodeLengths []float64
	filename       string
}

// NewEpisodeLength returns a new EpisodeLength Tracker which will save
// its data at the specified location filename.
func NewEpisodeLength(filename string) Tracker {
	var t EpisodeLength
	t.filename = filename
	return &t
}

// Track tracks the episode lengths in an experiment. When this
// function is called with the last timestep of an episode, the episode
// length is cached for saving later. All other timesteps are ignored.
func (e *EpisodeLength) Track(t ts.TimeStep) {
	if t.Last() {
		e.episodeLengths = append(e.episodeLengths, float64(t.Number))
	}
}

// Save saves the data tracked by the EpisodeLength Tracker to disk.
func (e *EpisodeLength) Save() error {
	return save(e.filename, e.episodeLengths)
}
