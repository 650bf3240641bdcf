package a2c

import (
	"github.com/samuelfneumann/gopolgrad/agent"
	"github.com/samuelfneumann/gopolgrad/distributed"
	"github.com/samuelfneumann/gopolgrad/initwfn"
	"github.com/samuelfneumann/gopolgrad/logger"
	"github.com/samuelfneumann/gopolgrad/network"
	"github.com/samuelfneumann/gopolgrad/solver"
)

// config implements an interface for any A2C configuration. This is
// needed so that the A2C constructor can take in either a Gaussian or
// Categorical (or any other distribution) Config struct.
type config interface {
	agent.Config

	trainPolicy() agent.LogPdfOfer
	behaviourPolicy() agent.PdfPolicy

	valueFn() network.NeuralNet
	trainValueFn() network.NeuralNet

	initWFn() *initwfn.InitWFn

	policySolver() *solver.Solver
	vSolver() *solver.Solver

	batchSize() int
	epochLength() int

	// Number of gradient steps to take for the value function per
	// epoch
	valueGradSteps() int

	// FinishEpisodeOnEpochEnd denotes if the current episode should
	// be finished before starting a new epoch.
	finishEpisodeOnEpochEnd() bool

	// Generalized Advantage Estimation
	lambda() float64
	gamma() float64

	// Threshold for the post-update KL divergence warning
	maxKL() float64

	// Gradient averaging across a group of workers
	gradAverager() distributed.GradAverager

	// Destination for update metrics
	recorder() logger.Recorder
}
