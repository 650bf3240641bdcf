package td3

import (
	"fmt"

	"github.com/samuelfneumann/gopolgrad/agent"
	env "github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/initwfn"
	"github.com/samuelfneumann/gopolgrad/logger"
	"github.com/samuelfneumann/gopolgrad/network"
	"github.com/samuelfneumann/gopolgrad/solver"
)

// Config implements a configuration for a TD3 agent with MLP policy
// and value function networks.
type Config struct {
	// Deterministic policy neural net
	PolicyLayers      []int
	PolicyBiases      []bool
	PolicyActivations []*network.Activation

	// Twin action value function neural nets
	QLayers      []int
	QBiases      []bool
	QActivations []*network.Activation

	// Weight init function for all neural nets
	InitWFn *initwfn.InitWFn

	PolicySolver *solver.Solver
	QSolver      *solver.Solver

	BatchSize      int
	ReplayCapacity int

	Gamma  float64
	Polyak float64

	// ActionNoise is the standard deviation of the exploration noise
	// added to the behaviour policy's actions. TargetNoise is the
	// standard deviation of the target policy smoothing noise, which
	// is clipped to [-NoiseClip, NoiseClip].
	ActionNoise float64
	TargetNoise float64
	NoiseClip   float64

	// PolicyDelay is the number of value function updates per policy
	// and target network update.
	PolicyDelay int

	// WarmupSteps is the number of initial environment steps on which
	// actions are sampled uniformly from the action space. UpdateAfter
	// is the number of environment steps before updates begin, and
	// UpdateEvery is the number of environment steps between batches
	// of updates.
	WarmupSteps int
	UpdateAfter int
	UpdateEvery int

	// Recorder stores the update metrics of each update iteration. If
	// nil, metrics are discarded.
	Recorder logger.Recorder
}

// DefaultConfig returns a Config with reasonable default
// hyperparameter values.
func DefaultConfig() Config {
	initWFn, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		panic(fmt.Sprintf("defaultconfig: %v", err))
	}

	policySolver, err := solver.NewDefaultAdam(1e-3, 1)
	if err != nil {
		panic(fmt.Sprintf("defaultconfig: %v", err))
	}

	qSolver, err := solver.NewDefaultAdam(1e-3, 1)
	if err != nil {
		panic(fmt.Sprintf("defaultconfig: %v", err))
	}

	return Config{
		PolicyLayers: []int{256, 128},
		PolicyBiases: []bool{true, true},
		PolicyActivations: []*network.Activation{network.ReLU(),
			network.ReLU()},

		QLayers:      []int{256, 128},
		QBiases:      []bool{true, true},
		QActivations: []*network.Activation{network.ReLU(), network.ReLU()},

		InitWFn:      initWFn,
		PolicySolver: policySolver,
		QSolver:      qSolver,

		BatchSize:      100,
		ReplayCapacity: 1_000_000,

		Gamma:  0.99,
		Polyak: 0.95,

		ActionNoise: 0.1,
		TargetNoise: 0.2,
		NoiseClip:   0.5,

		PolicyDelay: 2,

		WarmupSteps: 10_000,
		UpdateAfter: 1_000,
		UpdateEvery: 50,
	}
}

// Validate checks a Config to ensure it is a valid configuration.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("cannot have batch size < 1")
	}
	if c.ReplayCapacity < c.BatchSize {
		return fmt.Errorf("cannot have replay capacity < batch size")
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in [0, 1]")
	}
	if c.Polyak < 0 || c.Polyak >= 1 {
		return fmt.Errorf("polyak must be in [0, 1)")
	}
	if c.PolicyDelay < 1 {
		return fmt.Errorf("cannot have policy delay < 1")
	}
	if c.UpdateEvery < 1 {
		return fmt.Errorf("cannot have update interval < 1")
	}
	if c.NoiseClip < 0 {
		return fmt.Errorf("cannot have negative noise clip")
	}
	return nil
}

// ValidAgent returns true if the argument agent can be constructed
// from the Config and false otherwise.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*TD3)
	return ok
}

// CreateAgent creates and returns the agent that the configuration
// describes.
func (c Config) CreateAgent(e env.Environment, seed uint64) (agent.Agent,
	error) {
	return New(e, c, int64(seed))
}
