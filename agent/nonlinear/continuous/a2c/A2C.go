package a2c

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gopolgrad/agent"
	"github.com/samuelfneumann/gopolgrad/distributed"
	"github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/logger"
	"github.com/samuelfneumann/gopolgrad/network"
	ts "github.com/samuelfneumann/gopolgrad/timestep"
)

// Note: Step() is called on each timestep. When the epoch finishes
// the current episode may not be finished, but Step() will be called,
// updating the current policy. In this case, we finish the episode
// with the updated policy, but none of this data is recorded or used
// to update the policy. The next epoch starts from the beginning of
// the next episode.

// A2C implements the advantage actor-critic algorithm with
// generalized advantage estimation. Each epoch, the policy takes a
// single gradient step on the advantage-weighted policy gradient
// loss, and the state value critic takes a fixed number of gradient
// steps on its mean squared TD target error, all on the same batch of
// on-policy data.
//
// Before every solver step, the gradients of the model being updated
// are passed through a distributed.GradAverager, so that a group of
// A2C workers stepping in lockstep all apply the same averaged
// gradient. After each update, the approximate KL divergence between
// the data-collecting policy and the updated policy is measured and a
// warning is emitted if the update moved the policy suspiciously far.
//
// Update metrics are stored in a logger.Recorder on each epoch.
type A2C struct {
	// Policy
	behaviour         agent.PdfPolicy  // Has its own VM
	trainPolicy       agent.LogPdfOfer // Policy struct that is learned
	trainPolicySolver G.Solver
	trainPolicyVM     G.VM
	advantages        *G.Node // For gradient construction
	logProb           *G.Node // For gradient construction
	policyLossVal     G.Value

	buffer           *gaeBuffer
	epochLength      int
	currentEpochStep int
	completedEpochs  int
	eval             bool

	// finishingEpisode becomes true when the number of steps recorded
	// equals the total number of steps allowed in the epoch. In this
	// case, the agent continues to act in the environment, but no
	// more data is stored in the buffer. The rest of the episode is
	// finished and its data discarded.
	finishingEpisode bool

	// finishEpisodeOnEpochEnd denotes if the current episode should
	// be finished before starting a new epoch. If true, then the
	// agent is updated when the current epoch ends, then the current
	// episode is finished, then the next epoch starts. If false, the
	// next epoch starts at the next timestep, which may be in the
	// middle of an episode.
	finishEpisodeOnEpochEnd bool

	prevStep ts.TimeStep

	// State value critic
	vValueFn             network.NeuralNet
	vVM                  G.VM
	vTrainValueFn        network.NeuralNet
	vTrainValueFnVM      G.VM
	vTrainValueFnTargets *G.Node
	vSolver              G.Solver
	valueGradSteps       int
	valueLossVal         G.Value

	maxKL    float64
	averager distributed.GradAverager
	recorder logger.Recorder
}

// New creates and returns a new A2C agent.
func New(env environment.Environment, c agent.Config,
	seed int64) (*A2C, error) {
	if !c.ValidAgent(&A2C{}) {
		return nil, fmt.Errorf("new: invalid configuration type: %T", c)
	}

	config, ok := c.(config)
	if !ok {
		return nil, fmt.Errorf("new: invalid configuration type: %T", c)
	}

	err := config.Validate()
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	features := env.ObservationSpec().Shape.Len()
	actionDims := env.ActionSpec().Shape.Len()
	buffer := newGAEBuffer(features, actionDims, config.batchSize(),
		config.lambda(), config.gamma())

	// Prediction value function
	valueFn := config.valueFn()
	vVM := G.NewTapeMachine(valueFn.Graph())

	// Training value function
	trainValueFn := config.trainValueFn()

	trainValueFnTargets := G.NewMatrix(
		trainValueFn.Graph(),
		tensor.Float64,
		G.WithShape(trainValueFn.Prediction()[0].Shape()...),
		G.WithName("ValueFnUpdateTarget"),
	)

	valueFnLoss := G.Must(G.Sub(trainValueFn.Prediction()[0],
		trainValueFnTargets))
	valueFnLoss = G.Must(G.Square(valueFnLoss))
	valueFnLoss = G.Must(G.Mean(valueFnLoss))

	// Prediction policy
	behaviour := config.behaviourPolicy()

	// Training policy
	trainPolicy := config.trainPolicy()
	logProb := trainPolicy.LogPdfNode()
	advantages := G.NewVector(
		trainPolicy.Network().Graph(),
		tensor.Float64,
		G.WithName("Advantages"),
		G.WithShape(config.epochLength()),
	)

	policyLoss := G.Must(G.HadamardProd(logProb, advantages))
	policyLoss = G.Must(G.Mean(policyLoss))
	policyLoss = G.Must(G.Neg(policyLoss))

	a := &A2C{
		behaviour:         behaviour,
		trainPolicy:       trainPolicy,
		trainPolicySolver: config.policySolver(),
		advantages:        advantages,
		logProb:           logProb,

		vValueFn: valueFn,
		vVM:      vVM,

		vTrainValueFn:        trainValueFn,
		vTrainValueFnTargets: trainValueFnTargets,
		vSolver:              config.vSolver(),
		valueGradSteps:       config.valueGradSteps(),

		buffer:                  buffer,
		epochLength:             config.epochLength(),
		currentEpochStep:        0,
		completedEpochs:         0,
		eval:                    false,
		finishingEpisode:        false,
		finishEpisodeOnEpochEnd: config.finishEpisodeOnEpochEnd(),

		maxKL:    config.maxKL(),
		averager: config.gradAverager(),
		recorder: config.recorder(),
	}

	// Record the loss values so they survive VM resets
	G.Read(policyLoss, &a.policyLossVal)
	G.Read(valueFnLoss, &a.valueLossVal)

	_, err = G.Grad(valueFnLoss, trainValueFn.Learnables()...)
	if err != nil {
		return nil, fmt.Errorf("new: could not compute value function "+
			"gradient: %v", err)
	}
	a.vTrainValueFnVM = G.NewTapeMachine(trainValueFn.Graph(),
		G.BindDualValues(trainValueFn.Learnables()...))

	_, err = G.Grad(policyLoss, trainPolicy.Network().Learnables()...)
	if err != nil {
		return nil, fmt.Errorf("new: could not compute policy "+
			"gradient: %v", err)
	}
	a.trainPolicyVM = G.NewTapeMachine(trainPolicy.Network().Graph(),
		G.BindDualValues(trainPolicy.Network().Learnables()...))

	return a, nil
}

// SelectAction returns an action at the given timestep.
func (a *A2C) SelectAction(t ts.TimeStep) *mat.VecDense {
	if t != a.prevStep {
		panic("selectaction: timestep is different from that previously " +
			"recorded")
	}
	return a.behaviour.SelectAction(t)
}

// EndEpisode performs cleanup at the end of an episode.
func (a *A2C) EndEpisode() {
	// If the previous epoch finished before the episode did, the
	// ending of the previous episode was thrown out. A new episode is
	// starting now, so data can be stored for the current epoch again.
	a.finishingEpisode = false
}

// Eval sets the algorithm into evaluation mode
func (a *A2C) Eval() {
	a.eval = true
	a.behaviour.Eval()
}

// Train sets the algorithm into training mode
func (a *A2C) Train() {
	a.eval = false
	a.behaviour.Train()
}

// IsEval returns whether the algorithm is in evaluation mode
func (a *A2C) IsEval() bool { return a.eval }

// ObserveFirst observes and records information about the first
// timestep in an episode.
func (a *A2C) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		fmt.Fprintf(os.Stderr, "Warning: ObserveFirst() should only be "+
			"called on the first timestep (current timestep = %d)\n",
			t.Number)
	}
	a.prevStep = t
	return nil
}

// Observe observes and records any timestep other than the first
// timestep.
func (a *A2C) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	// Finish current episode to end epoch
	if a.finishingEpisode || a.eval {
		a.prevStep = nextStep
		return nil
	}

	// Calculate value of previous step
	o := a.prevStep.Observation.(*mat.VecDense).RawVector().Data
	val, err := a.stateValue(o)
	if err != nil {
		return fmt.Errorf("observe: %v", err)
	}

	// Log probability with which the behaviour policy selected the
	// action on the previous step
	mean, stddev := a.behaviour.PdfParams()
	act := action.(*mat.VecDense).RawVector().Data
	logp := gaussianLogPdf(mean, stddev, act)

	r := nextStep.Reward
	err = a.buffer.store(o, act, r, val, logp)
	if err != nil {
		return fmt.Errorf("observe: %v", err)
	}

	a.prevStep = nextStep
	o = nextStep.Observation.(*mat.VecDense).RawVector().Data

	a.currentEpochStep++
	terminal := nextStep.Last() || a.currentEpochStep == a.epochLength
	if terminal {
		if nextStep.TerminalEnd() {
			a.buffer.finishPath(0.0)
		} else {
			lastVal, err := a.stateValue(o)
			if err != nil {
				return fmt.Errorf("observe: %v", err)
			}
			a.buffer.finishPath(lastVal)
			a.finishingEpisode = (a.currentEpochStep == a.epochLength) &&
				a.finishEpisodeOnEpochEnd
		}
	}
	return nil
}

// stateValue runs the prediction value function on a single
// observation.
func (a *A2C) stateValue(obs []float64) (float64, error) {
	if err := a.vValueFn.SetInput(obs); err != nil {
		return 0, fmt.Errorf("stateValue: could not set input: %v", err)
	}
	if err := a.vVM.RunAll(); err != nil {
		return 0, fmt.Errorf("stateValue: could not run VM: %v", err)
	}
	defer a.vVM.Reset()

	val := a.vValueFn.Output()[0].Data().([]float64)
	if len(val) != 1 {
		return 0, fmt.Errorf("stateValue: multiple values predicted for "+
			"state value \n\twant(1)\n\thave(%v)", len(val))
	}
	return val[0], nil
}

// Step updates the agent if an epoch of data has been collected. If
// the agent is in evaluation mode, this function simply returns.
func (a *A2C) Step() error {
	if a.currentEpochStep < a.epochLength || a.eval {
		return nil
	}

	obs, act, adv, ret, oldLps, err := a.buffer.get()
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	// Policy gradient step
	advantagesTensor := tensor.NewDense(
		tensor.Float64,
		a.advantages.Shape(),
		tensor.WithBacking(adv),
	)
	err = G.Let(a.advantages, advantagesTensor)
	if err != nil {
		return fmt.Errorf("step: could not set advantages: %v", err)
	}
	if _, err := a.trainPolicy.LogPdfOf(obs, act); err != nil {
		return fmt.Errorf("step: %v", err)
	}
	if err := a.trainPolicyVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run policy VM: %v", err)
	}
	policyLoss := a.policyLossVal.Data().(float64)
	model := a.trainPolicy.Network().Model()
	if err := a.averager.AverageGradients(model); err != nil {
		return fmt.Errorf("step: could not average policy gradients: %v",
			err)
	}
	if err := a.trainPolicySolver.Step(model); err != nil {
		return fmt.Errorf("step: could not step policy solver: %v", err)
	}
	a.trainPolicyVM.Reset()

	// Value function update
	targetsTensor := tensor.NewDense(
		tensor.Float64,
		a.vTrainValueFnTargets.Shape(),
		tensor.WithBacking(ret),
	)
	err = G.Let(a.vTrainValueFnTargets, targetsTensor)
	if err != nil {
		return fmt.Errorf("step: could not set value targets: %v", err)
	}

	var valueLoss float64
	for i := 0; i < a.valueGradSteps; i++ {
		if err := a.vTrainValueFnVM.RunAll(); err != nil {
			return fmt.Errorf("step: could not run value function VM: %v",
				err)
		}
		if i == 0 {
			valueLoss = a.valueLossVal.Data().(float64)
		}
		model := a.vTrainValueFn.Model()
		if err := a.averager.AverageGradients(model); err != nil {
			return fmt.Errorf("step: could not average value function "+
				"gradients: %v", err)
		}
		if err := a.vSolver.Step(model); err != nil {
			return fmt.Errorf("step: could not step value function "+
				"solver: %v", err)
		}
		a.vTrainValueFnVM.Reset()
	}

	// Post-update diagnostics: forward passes only, no solver steps
	if _, err := a.trainPolicy.LogPdfOf(obs, act); err != nil {
		return fmt.Errorf("step: %v", err)
	}
	if err := a.trainPolicyVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run policy VM: %v", err)
	}
	newLps := a.trainPolicy.LogPdfVal().Data().([]float64)
	kl := stat.Mean(oldLps, nil) - stat.Mean(newLps, nil)
	newPolicyLoss := a.policyLossVal.Data().(float64)
	a.trainPolicyVM.Reset()

	if err := a.vTrainValueFnVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run value function VM: %v", err)
	}
	newValueLoss := a.valueLossVal.Data().(float64)
	a.vTrainValueFnVM.Reset()

	kl = a.averager.Average(kl)
	if kl > 1.5*a.maxKL {
		fmt.Fprintf(os.Stderr, "Warning: update resulted in a large KL "+
			"divergence \n\tlimit(%v) \n\thave(%v)\n", 1.5*a.maxKL, kl)
	}

	a.recorder.Store(map[string]float64{
		"PolicyLoss":   policyLoss,
		"ValueLoss":    valueLoss,
		"KL":           kl,
		"Entropy":      -stat.Mean(oldLps, nil),
		"DeltaPolLoss": newPolicyLoss - policyLoss,
		"DeltaValLoss": newValueLoss - valueLoss,
	})

	// Update behaviour policy and prediction value function
	if err := a.behaviour.Network().Set(a.trainPolicy.Network()); err != nil {
		return fmt.Errorf("step: could not sync behaviour policy: %v", err)
	}
	if err := a.vValueFn.Set(a.vTrainValueFn); err != nil {
		return fmt.Errorf("step: could not sync value function: %v", err)
	}
	a.completedEpochs++
	a.currentEpochStep = 0

	return nil
}

// TdError implements the agent.TdErrorer interface; it always panics.
func (a *A2C) TdError(ts.Transition) float64 {
	panic("tderror: not implemented")
}

// CompletedEpochs returns the number of epochs of training completed.
func (a *A2C) CompletedEpochs() int { return a.completedEpochs }

// Close cleans up the agent's resources.
func (a *A2C) Close() error {
	a.averager.Close()

	if err := a.trainPolicyVM.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	if err := a.vTrainValueFnVM.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	if err := a.vVM.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	return a.behaviour.Close()
}

// gaussianLogPdf computes the log probability density of action under
// a diagonal Gaussian with the given mean and standard deviation. The
// log density of a multi-dimensional action is the sum of the
// per-dimension log densities.
func gaussianLogPdf(mean, stddev, action []float64) float64 {
	logPdf := 0.0
	for i := range action {
		z := (action[i] - mean[i]) / stddev[i]
		logPdf += -0.5*z*z - math.Log(stddev[i]) - 0.5*math.Log(2*math.Pi)
	}
	return logPdf
}
