package experiment

import (
	"fmt"
	"time"

	"github.com/samuelfneumann/gopolgrad/agent"
	env "github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/experiment/tracker"
	"github.com/samuelfneumann/gopolgrad/logger"
	"github.com/samuelfneumann/gopolgrad/monitor"
	ts "github.com/samuelfneumann/gopolgrad/timestep"
	"github.com/samuelfneumann/gopolgrad/utils/progressbar"
)

// Online is an Experiment that runs an agent online only. No offline
// evaluation is performed.
//
// An Online experiment can optionally record diagnostics to a
// logger.Recorder. Episodic returns and lengths are stored as they
// complete, and every dumpEvery environment steps the accumulated
// diagnostics, including any stored by the agent itself, are
// summarized and dumped. If a monitor.Server is attached, each dumped
// summary is also published to connected browsers.
type Online struct {
	env.Environment
	agent.Agent
	maxSteps     uint
	currentSteps uint
	trackers     []tracker.Tracker

	recorder  logger.Recorder
	stats     []logger.Stat
	dumpEvery uint

	monitor *monitor.Server
	bar     *progressbar.ProgressBar

	episodeReturn float64
}

// NewOnline creates and returns a new online experiment on a given
// environment with a given agent. The steps parameter determines how
// many timesteps the experiment is run for, and the t parameter is a
// slice of tracker.Tracker which determine what data is saved.
func NewOnline(e env.Environment, a agent.Agent, steps uint,
	t ...tracker.Tracker) *Online {
	return &Online{
		Environment: e,
		Agent:       a,
		maxSteps:    steps,
		trackers:    t,
	}
}

// Register registers a tracker.Tracker with the experiment so that
// data generated during the experiment can be tracked and saved.
func (o *Online) Register(t tracker.Tracker) {
	o.trackers = append(o.trackers, t)
}

// RecordWith attaches a Recorder to the experiment. Every dumpEvery
// environment steps, the accumulated diagnostics are summarized with
// the argument stats and dumped.
func (o *Online) RecordWith(rec logger.Recorder, dumpEvery uint,
	stats ...logger.Stat) {
	o.recorder = rec
	o.dumpEvery = dumpEvery
	o.stats = stats
}

// PublishTo attaches a monitor server to the experiment. Each dumped
// diagnostics summary is published to the server's clients.
func (o *Online) PublishTo(m *monitor.Server) {
	o.monitor = m
}

// ShowProgress displays a progress bar for the experiment in the
// terminal window.
func (o *Online) ShowProgress() {
	o.bar = progressbar.New(50, int(o.maxSteps), time.Second, false)
	o.bar.Display()
}

// RunEpisode runs a single episode of the experiment, returning
// whether or not the experiment's timestep limit has been reached.
func (o *Online) RunEpisode() (bool, error) {
	step := o.Environment.Reset()
	if err := o.Agent.ObserveFirst(step); err != nil {
		return false, fmt.Errorf("runepisode: %v", err)
	}
	o.track(step)

	for !step.Last() && o.currentSteps < o.maxSteps {
		o.currentSteps++

		// Select action, step in environment
		action := o.Agent.SelectAction(step)
		step, _ = o.Environment.Step(action)

		// Cache the environment step in each Tracker
		o.track(step)

		// Observe the timestep and step the agent
		if err := o.Agent.Observe(action, step); err != nil {
			return false, fmt.Errorf("runepisode: %v", err)
		}
		if err := o.Agent.Step(); err != nil {
			return false, fmt.Errorf("runepisode: %v", err)
		}

		if err := o.record(step); err != nil {
			return false, fmt.Errorf("runepisode: %v", err)
		}
		if o.bar != nil {
			o.bar.Increment()
		}
	}
	o.Agent.EndEpisode()

	return o.currentSteps >= o.maxSteps, nil
}

// Run runs the entire experiment for all timesteps.
func (o *Online) Run() error {
	ended := false

	for !ended {
		var err error
		ended, err = o.RunEpisode()
		if err != nil {
			return fmt.Errorf("run: %v", err)
		}
	}

	if o.bar != nil {
		o.bar.Close()
	}
	return nil
}

// Save saves all the data cached by the Trackers to disk.
func (o *Online) Save() error {
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			return fmt.Errorf("save: %v", err)
		}
	}
	return nil
}

// track sends the current timestep to each registered Tracker.
func (o *Online) track(t ts.TimeStep) {
	for _, tracker := range o.trackers {
		tracker.Track(t)
	}
}

// record stores per-episode diagnostics and dumps the accumulated
// summary on epoch boundaries.
func (o *Online) record(step ts.TimeStep) error {
	if o.recorder == nil {
		return nil
	}

	o.episodeReturn += step.Reward
	if step.Last() {
		o.recorder.Store(map[string]float64{
			"EpisodeReturn": o.episodeReturn,
			"EpisodeLength": float64(step.Number),
		})
		o.episodeReturn = 0.0
	}

	if o.dumpEvery == 0 || o.currentSteps%o.dumpEvery != 0 {
		return nil
	}

	o.recorder.LogTabular("TotalEnvInteracts", float64(o.currentSteps))
	summary, err := o.recorder.DumpTabular(o.stats...)
	if err != nil {
		return fmt.Errorf("record: could not dump diagnostics: %v", err)
	}
	if o.monitor != nil {
		o.monitor.Publish(summary)
	}
	return nil
}
