package main

import (
	"fmt"
	"log"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/gopolgrad/agent"
	"github.com/samuelfneumann/gopolgrad/agent/nonlinear/continuous/a2c"
	"github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/environment/classiccontrol/pendulum"
	"github.com/samuelfneumann/gopolgrad/experiment"
	"github.com/samuelfneumann/gopolgrad/experiment/tracker"
	"github.com/samuelfneumann/gopolgrad/logger"
	"github.com/samuelfneumann/gopolgrad/monitor"
)

func main() {
	var seed uint64 = 192382

	// Create the environment
	angle := r1.Interval{Min: math.Pi - 0.5, Max: math.Pi + 0.5}
	speed := r1.Interval{Min: -1.0, Max: 1.0}

	s := environment.NewUniformStarter([]r1.Interval{angle, speed}, seed)
	task := pendulum.NewSwingUp(s, 1000)
	env, _ := pendulum.NewContinuous(task, 0.99)

	// Epoch diagnostics go to stdout and ./data/progress.tsv
	rec, err := logger.NewEpochLogger(os.Stdout, "./data")
	if err != nil {
		log.Fatal(err)
	}

	// Create the learning algorithm. The agent shares the experiment's
	// recorder so that its update metrics appear in the epoch dumps.
	config := a2c.DefaultGaussianTreeMLPConfig()
	config.Recorder = rec
	ag, err := config.CreateAgent(env, seed)
	if err != nil {
		log.Fatal(err)
	}
	defer ag.(agent.Closer).Close()

	// Browser dashboard at ws://localhost:8080/metrics
	done := make(chan struct{})
	defer close(done)
	mon := monitor.NewServer("localhost:8080", 4, done)
	go mon.ListenAndServe()

	// Experiment
	e := experiment.NewOnline(env, ag, 400_000,
		tracker.NewReturn("./data/returns.bin"),
		tracker.NewEpisodeLength("./data/lengths.bin"))
	e.RecordWith(rec, uint(config.EpochLength),
		logger.WithMinAndMax("EpisodeReturn"),
		logger.AverageOnly("EpisodeLength"),
		logger.AverageOnly("PolicyLoss"),
		logger.AverageOnly("ValueLoss"),
		logger.AverageOnly("KL"),
		logger.AverageOnly("Entropy"),
	)
	e.PublishTo(mon)
	e.ShowProgress()

	if err := e.Run(); err != nil {
		log.Fatal(err)
	}
	if err := e.Save(); err != nil {
		log.Fatal(err)
	}

	data, err := tracker.LoadData("./data/returns.bin")
	if err != nil {
		log.Fatal(err)
	}
	if len(data) > 10 {
		data = data[len(data)-10:]
	}
	fmt.Println(data)
}
