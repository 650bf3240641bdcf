package a2c

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/gopolgrad/agent"
	"github.com/samuelfneumann/gopolgrad/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/gopolgrad/distributed"
	env "github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/initwfn"
	"github.com/samuelfneumann/gopolgrad/logger"
	"github.com/samuelfneumann/gopolgrad/network"
	"github.com/samuelfneumann/gopolgrad/solver"
)

// GaussianTreeMLPConfig implements a configuration for an A2C agent
// with a Gaussian policy. The Gaussian policy is parameterized by a
// neural network which has a single input and a single root network.
// The root network then splits off into two leaf networks - one for
// the mean and one for the log standard deviation of the policy. See
// the policy.GaussianTreeMLP struct for more details. The action
// dimensions may be n-dimensional.
type GaussianTreeMLPConfig struct {
	// Policy neural net
	policy          agent.LogPdfOfer
	behaviour       agent.PdfPolicy
	RootLayers      []int
	RootBiases      []bool
	RootActivations []*network.Activation

	LeafLayers      [][]int
	LeafBiases      [][]bool
	LeafActivations [][]*network.Activation

	// State value function neural net
	vValueFn           network.NeuralNet
	vTrainValueFn      network.NeuralNet
	ValueFnLayers      []int
	ValueFnBiases      []bool
	ValueFnActivations []*network.Activation

	// Weight init function for all neural nets
	InitWFn *initwfn.InitWFn

	PolicySolver *solver.Solver
	VSolver      *solver.Solver

	// Number of gradient steps to take for the value function per
	// epoch
	ValueGradSteps int
	EpochLength    int

	// FinishEpisodeOnEpochEnd denotes if the current episode should
	// be finished before starting a new epoch. If true, then the
	// agent is updated when the current epoch ends, then the current
	// episode is finished, then the next epoch starts. If false, the
	// next epoch starts at the next timestep, which may be in the
	// middle of an episode.
	FinishEpisodeOnEpochEnd bool

	// Generalized Advantage Estimation
	Lambda float64
	Gamma  float64

	// MaxKL is the largest KL divergence between successive policies
	// considered reasonable for a single update. A warning is emitted
	// when an update exceeds 1.5 * MaxKL.
	MaxKL float64

	// Averager averages gradients across a group of workers before
	// each solver step. If nil, a distributed.Local averager is used.
	Averager distributed.GradAverager

	// Recorder stores the update metrics of each epoch. If nil,
	// metrics are discarded.
	Recorder logger.Recorder
}

// DefaultGaussianTreeMLPConfig returns a GaussianTreeMLPConfig with
// reasonable default hyperparameter values.
func DefaultGaussianTreeMLPConfig() GaussianTreeMLPConfig {
	const epochLength int = 4000

	initWFn, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		panic(fmt.Sprintf("defaultgaussiantreemlpconfig: %v", err))
	}

	policySolver, err := solver.NewDefaultAdam(3e-4, 1)
	if err != nil {
		panic(fmt.Sprintf("defaultgaussiantreemlpconfig: %v", err))
	}

	vSolver, err := solver.NewDefaultAdam(1e-3, 1)
	if err != nil {
		panic(fmt.Sprintf("defaultgaussiantreemlpconfig: %v", err))
	}

	return GaussianTreeMLPConfig{
		RootLayers:      []int{64, 32},
		RootBiases:      []bool{true, true},
		RootActivations: []*network.Activation{network.ReLU(), network.ReLU()},

		LeafLayers:      [][]int{{}, {}},
		LeafBiases:      [][]bool{{}, {}},
		LeafActivations: [][]*network.Activation{{}, {}},

		ValueFnLayers:      []int{64, 32},
		ValueFnBiases:      []bool{true, true},
		ValueFnActivations: []*network.Activation{network.ReLU(), network.ReLU()},

		InitWFn:      initWFn,
		PolicySolver: policySolver,
		VSolver:      vSolver,

		ValueGradSteps:          80,
		EpochLength:             epochLength,
		FinishEpisodeOnEpochEnd: true,

		Lambda: 0.97,
		Gamma:  0.99,
		MaxKL:  0.01,
	}
}

// BatchSize returns the batch size of the agent constructed from this
// config.
func (c GaussianTreeMLPConfig) BatchSize() int {
	return c.EpochLength
}

// Validate checks a Config to ensure it is a valid configuration.
func (c GaussianTreeMLPConfig) Validate() error {
	if c.EpochLength <= 0 {
		return fmt.Errorf("cannot have epoch length < 1")
	}
	if c.ValueGradSteps <= 0 {
		return fmt.Errorf("cannot have value gradient steps < 1")
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in [0, 1]")
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("lambda must be in [0, 1]")
	}
	if c.MaxKL <= 0 {
		return fmt.Errorf("cannot have max KL divergence <= 0")
	}
	return nil
}

// ValidAgent returns true if the argument agent can be constructed
// from the Config and false otherwise.
func (c GaussianTreeMLPConfig) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*A2C)
	return ok
}

// CreateAgent creates and returns the agent that the configuration
// describes.
func (c GaussianTreeMLPConfig) CreateAgent(e env.Environment,
	seed uint64) (agent.Agent, error) {
	behaviour, err := policy.NewGaussianTreeMLP(
		e,
		1,
		c.RootLayers,
		c.RootBiases,
		c.RootActivations,
		c.LeafLayers,
		c.LeafBiases,
		c.LeafActivations,
		c.InitWFn.InitWFn(),
		seed,
	)
	if err != nil {
		return nil, fmt.Errorf("createagent: could not create "+
			"behaviour policy: %v", err)
	}

	p, err := policy.NewGaussianTreeMLP(
		e,
		c.EpochLength,
		c.RootLayers,
		c.RootBiases,
		c.RootActivations,
		c.LeafLayers,
		c.LeafBiases,
		c.LeafActivations,
		c.InitWFn.InitWFn(),
		seed,
	)
	if err != nil {
		return nil, fmt.Errorf("createagent: could not create policy: %v",
			err)
	}

	features := e.ObservationSpec().Shape.Len()

	critic, err := network.NewSingleHeadMLP(
		features,
		1,
		G.NewGraph(),
		c.ValueFnLayers,
		c.ValueFnBiases,
		c.InitWFn.InitWFn(),
		c.ValueFnActivations,
	)
	if err != nil {
		return nil, fmt.Errorf("createagent: could not create "+
			"value function: %v", err)
	}

	trainValueFn, err := network.NewSingleHeadMLP(
		features,
		c.EpochLength,
		G.NewGraph(),
		c.ValueFnLayers,
		c.ValueFnBiases,
		c.InitWFn.InitWFn(),
		c.ValueFnActivations,
	)
	if err != nil {
		return nil, fmt.Errorf("createagent: could not create train "+
			"value function: %v", err)
	}

	if err := behaviour.Network().Set(p.Network()); err != nil {
		return nil, fmt.Errorf("createagent: could not sync "+
			"behaviour policy: %v", err)
	}
	if err := critic.Set(trainValueFn); err != nil {
		return nil, fmt.Errorf("createagent: could not sync "+
			"value function: %v", err)
	}
	c.policy = p
	c.behaviour = behaviour
	c.vValueFn = critic
	c.vTrainValueFn = trainValueFn

	if c.Averager == nil {
		c.Averager = distributed.NewLocal()
	}
	if c.Recorder == nil {
		c.Recorder = logger.NewDiscard()
	}

	return New(e, c, int64(seed))
}

// Below implemented to satisfy the a2c.config interface.

func (c GaussianTreeMLPConfig) trainPolicy() agent.LogPdfOfer {
	return c.policy
}

func (c GaussianTreeMLPConfig) behaviourPolicy() agent.PdfPolicy {
	return c.behaviour
}

func (c GaussianTreeMLPConfig) valueFn() network.NeuralNet {
	return c.vValueFn
}

func (c GaussianTreeMLPConfig) trainValueFn() network.NeuralNet {
	return c.vTrainValueFn
}

func (c GaussianTreeMLPConfig) initWFn() *initwfn.InitWFn {
	return c.InitWFn
}

func (c GaussianTreeMLPConfig) policySolver() *solver.Solver {
	return c.PolicySolver
}

func (c GaussianTreeMLPConfig) vSolver() *solver.Solver {
	return c.VSolver
}

func (c GaussianTreeMLPConfig) batchSize() int {
	return c.BatchSize()
}

func (c GaussianTreeMLPConfig) valueGradSteps() int {
	return c.ValueGradSteps
}

func (c GaussianTreeMLPConfig) epochLength() int {
	return c.EpochLength
}

func (c GaussianTreeMLPConfig) finishEpisodeOnEpochEnd() bool {
	return c.FinishEpisodeOnEpochEnd
}

func (c GaussianTreeMLPConfig) lambda() float64 {
	return c.Lambda
}

func (c GaussianTreeMLPConfig) gamma() float64 {
	return c.Gamma
}

func (c GaussianTreeMLPConfig) maxKL() float64 {
	return c.MaxKL
}

func (c GaussianTreeMLPConfig) gradAverager() distributed.GradAverager {
	return c.Averager
}

func (c GaussianTreeMLPConfig) recorder() logger.Recorder {
	return c.Recorder
}
