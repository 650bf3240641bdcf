// Package td3 implements the twin delayed deep deterministic policy
// gradient algorithm
package td3

import (
	"fmt"
	"os"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gopolgrad/agent"
	"github.com/samuelfneumann/gopolgrad/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/expreplay"
	"github.com/samuelfneumann/gopolgrad/logger"
	"github.com/samuelfneumann/gopolgrad/network"
	ts "github.com/samuelfneumann/gopolgrad/timestep"
	"github.com/samuelfneumann/gopolgrad/utils/floatutils"
)

// TD3 implements the twin delayed deep deterministic policy gradient
// algorithm. TD3 is an off-policy algorithm for continuous action
// spaces which learns twin action value functions by bootstrapping
// off the smaller of their two target predictions, evaluated at a
// smoothed target policy action. The deterministic policy is updated
// less frequently than the value functions, by gradient ascent on the
// first value function's prediction of the policy's actions.
//
// Adapted from:
//
// https://spinningup.openai.com/en/latest/algorithms/td3.html
type TD3 struct {
	// Behaviour policy selects actions in the environment, adding
	// exploration noise in training mode. It has its own VM.
	behaviour agent.NNPolicy

	online *actorCritic
	target *actorCritic

	// Policy training graph: the policy net feeds its predicted
	// actions into a frozen copy of the first value function
	trainPolicy   network.NeuralNet
	frozenQ       network.NeuralNet
	piObs         *G.Node
	policyVM      G.VM
	policySolver  G.Solver
	policyLossVal G.Value

	// Value function training graph: twin value functions sharing
	// state and action inputs, updated on a single combined loss
	qObs     *G.Node
	qAct     *G.Node
	qBackup  *G.Node
	qVM      G.VM
	qSolver  G.Solver
	qLossVal G.Value
	qModel   []G.ValueGrad

	// Target networks for computing the Bellman backup
	targetPolicyVM G.VM
	tObs           *G.Node
	tAct           *G.Node
	targetQVM      G.VM

	replay expreplay.ExperienceReplayer

	features   int
	actionDims int
	actLimit   float64
	batchSize  int

	gamma       float64
	polyak      float64
	targetNoise float64
	noiseClip   float64
	policyDelay int

	warmupSteps int
	updateAfter int
	updateEvery int

	stepsTaken int
	eval       bool
	prevStep   ts.TimeStep

	rng      *rand.Rand
	recorder logger.Recorder
}

// New creates and returns a new TD3 agent.
func New(e environment.Environment, c agent.Config, seed int64) (*TD3,
	error) {
	if !c.ValidAgent(&TD3{}) {
		return nil, fmt.Errorf("new: invalid configuration type: %T", c)
	}

	config, ok := c.(Config)
	if !ok {
		return nil, fmt.Errorf("new: invalid configuration type: %T", c)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if e.ActionSpec().Cardinality != environment.Continuous {
		return nil, fmt.Errorf("new: actions must be continuous")
	}

	features := e.ObservationSpec().Shape.Len()
	actionDims := e.ActionSpec().Shape.Len()
	actLimit := e.ActionSpec().UpperBound.AtVec(0)
	batch := config.BatchSize
	init := config.InitWFn.InitWFn()

	// Behaviour policy with exploration noise, batch size 1
	behaviour, err := policy.NewDeterministicActLimitMLP(e,
		config.ActionNoise, config.PolicyLayers, config.PolicyBiases,
		config.PolicyActivations, init, uint64(seed))
	if err != nil {
		return nil, fmt.Errorf("new: could not create behaviour "+
			"policy: %v", err)
	}

	// Policy training graph: the policy's predicted actions feed a
	// frozen copy of the first value function, so that maximizing the
	// frozen prediction trains only the policy weights
	policyGraph := G.NewGraph()
	piObs := G.NewMatrix(policyGraph, tensor.Float64,
		G.WithShape(batch, features), G.WithName("PolicyObs"),
		G.WithInit(G.Zeroes()))
	trainPolicy, err := network.NewBoundedMLPFromInput(piObs, actionDims,
		actLimit, policyGraph, config.PolicyLayers, config.PolicyBiases,
		init, config.PolicyActivations, "Policy")
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy: %v", err)
	}
	frozenQ, err := network.NewStateActionMLPFromInputs(piObs,
		trainPolicy.Prediction()[0], policyGraph, config.QLayers,
		config.QBiases, init, config.QActivations, "FrozenQ")
	if err != nil {
		return nil, fmt.Errorf("new: could not create frozen value "+
			"function: %v", err)
	}

	policyLoss := G.Must(G.Mean(frozenQ.Prediction()[0]))
	policyLoss = G.Must(G.Neg(policyLoss))

	// Value function training graph: twin value functions sharing
	// input nodes and a single combined loss
	qGraph := G.NewGraph()
	qObs := G.NewMatrix(qGraph, tensor.Float64, G.WithShape(batch, features),
		G.WithName("QObs"), G.WithInit(G.Zeroes()))
	qAct := G.NewMatrix(qGraph, tensor.Float64,
		G.WithShape(batch, actionDims), G.WithName("QAct"),
		G.WithInit(G.Zeroes()))
	qBackup := G.NewMatrix(qGraph, tensor.Float64, G.WithShape(batch, 1),
		G.WithName("Backup"), G.WithInit(G.Zeroes()))

	qfunc1, err := network.NewStateActionMLPFromInputs(qObs, qAct, qGraph,
		config.QLayers, config.QBiases, init, config.QActivations, "Q1")
	if err != nil {
		return nil, fmt.Errorf("new: could not create first value "+
			"function: %v", err)
	}
	qfunc2, err := network.NewStateActionMLPFromInputs(qObs, qAct, qGraph,
		config.QLayers, config.QBiases, init, config.QActivations, "Q2")
	if err != nil {
		return nil, fmt.Errorf("new: could not create second value "+
			"function: %v", err)
	}

	qLoss1 := G.Must(G.Sub(qfunc1.Prediction()[0], qBackup))
	qLoss1 = G.Must(G.Mean(G.Must(G.Square(qLoss1))))
	qLoss2 := G.Must(G.Sub(qfunc2.Prediction()[0], qBackup))
	qLoss2 = G.Must(G.Mean(G.Must(G.Square(qLoss2))))
	qLoss := G.Must(G.Add(qLoss1, qLoss2))

	// Target networks in gradient-free graphs
	targetPolicy, err := network.NewBoundedMLP(features, batch, actionDims,
		actLimit, G.NewGraph(), config.PolicyLayers, config.PolicyBiases,
		init, config.PolicyActivations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create target policy: %v",
			err)
	}

	targetQGraph := G.NewGraph()
	tObs := G.NewMatrix(targetQGraph, tensor.Float64,
		G.WithShape(batch, features), G.WithName("TargetQObs"),
		G.WithInit(G.Zeroes()))
	tAct := G.NewMatrix(targetQGraph, tensor.Float64,
		G.WithShape(batch, actionDims), G.WithName("TargetQAct"),
		G.WithInit(G.Zeroes()))
	targetQ1, err := network.NewStateActionMLPFromInputs(tObs, tAct,
		targetQGraph, config.QLayers, config.QBiases, init,
		config.QActivations, "TargetQ1")
	if err != nil {
		return nil, fmt.Errorf("new: could not create first target value "+
			"function: %v", err)
	}
	targetQ2, err := network.NewStateActionMLPFromInputs(tObs, tAct,
		targetQGraph, config.QLayers, config.QBiases, init,
		config.QActivations, "TargetQ2")
	if err != nil {
		return nil, fmt.Errorf("new: could not create second target value "+
			"function: %v", err)
	}

	online := &actorCritic{
		policy: trainPolicy,
		qfunc1: qfunc1,
		qfunc2: qfunc2,
	}
	target := &actorCritic{
		policy: targetPolicy,
		qfunc1: targetQ1,
		qfunc2: targetQ2,
	}
	if err := target.set(online); err != nil {
		return nil, fmt.Errorf("new: could not initialize target "+
			"networks: %v", err)
	}
	if err := behaviour.Network().Set(trainPolicy); err != nil {
		return nil, fmt.Errorf("new: could not sync behaviour policy: %v",
			err)
	}

	replay, err := expreplay.Config{
		MinReplayCapacity: config.BatchSize,
		MaxReplayCapacity: config.ReplayCapacity,
		BatchSize:         config.BatchSize,
	}.Create(features, actionDims, seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create replay buffer: %v",
			err)
	}

	recorder := config.Recorder
	if recorder == nil {
		recorder = logger.NewDiscard()
	}

	td3 := &TD3{
		behaviour: behaviour,

		online: online,
		target: target,

		trainPolicy:  trainPolicy,
		frozenQ:      frozenQ,
		piObs:        piObs,
		policySolver: config.PolicySolver,

		qObs:    qObs,
		qAct:    qAct,
		qBackup: qBackup,
		qSolver: config.QSolver,
		qModel:  append(qfunc1.Model(), qfunc2.Model()...),

		tObs: tObs,
		tAct: tAct,

		replay: replay,

		features:   features,
		actionDims: actionDims,
		actLimit:   actLimit,
		batchSize:  batch,

		gamma:       config.Gamma,
		polyak:      config.Polyak,
		targetNoise: config.TargetNoise,
		noiseClip:   config.NoiseClip,
		policyDelay: config.PolicyDelay,

		warmupSteps: config.WarmupSteps,
		updateAfter: config.UpdateAfter,
		updateEvery: config.UpdateEvery,

		rng:      rand.New(rand.NewSource(uint64(seed))),
		recorder: recorder,
	}

	// Record the loss values so they survive VM resets
	G.Read(policyLoss, &td3.policyLossVal)
	G.Read(qLoss, &td3.qLossVal)

	if _, err := G.Grad(policyLoss,
		trainPolicy.Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not compute policy "+
			"gradient: %v", err)
	}
	td3.policyVM = G.NewTapeMachine(policyGraph,
		G.BindDualValues(trainPolicy.Learnables()...))

	qLearnables := append(qfunc1.Learnables(), qfunc2.Learnables()...)
	if _, err := G.Grad(qLoss, qLearnables...); err != nil {
		return nil, fmt.Errorf("new: could not compute value function "+
			"gradient: %v", err)
	}
	td3.qVM = G.NewTapeMachine(qGraph, G.BindDualValues(qLearnables...))

	td3.targetPolicyVM = G.NewTapeMachine(targetPolicy.Graph())
	td3.targetQVM = G.NewTapeMachine(targetQGraph)

	return td3, nil
}

// SelectAction returns an action at the given timestep. For the first
// warmupSteps environment steps, actions are sampled uniformly from
// the action space. Afterwards, the behaviour policy selects actions.
func (t *TD3) SelectAction(step ts.TimeStep) *mat.VecDense {
	if step != t.prevStep {
		panic("selectaction: timestep is different from that previously " +
			"recorded")
	}

	if !t.eval && t.stepsTaken < t.warmupSteps {
		action := make([]float64, t.actionDims)
		for i := range action {
			action[i] = t.actLimit * (2*t.rng.Float64() - 1)
		}
		return mat.NewVecDense(t.actionDims, action)
	}

	return t.behaviour.SelectAction(step)
}

// ObserveFirst observes and records information about the first
// timestep in an episode.
func (t *TD3) ObserveFirst(step ts.TimeStep) error {
	if !step.First() {
		fmt.Fprintf(os.Stderr, "Warning: ObserveFirst() should only be "+
			"called on the first timestep (current timestep = %d)\n",
			step.Number)
	}
	t.prevStep = step
	return nil
}

// Observe observes and records any timestep other than the first
// timestep, storing the transition in the replay buffer. Episodes cut
// off by a step limit have no terminal flag set, so their final
// transitions still bootstrap.
func (t *TD3) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	if t.eval {
		t.prevStep = nextStep
		return nil
	}

	transition := ts.NewTransition(t.prevStep, action, nextStep)
	if err := t.replay.Add(transition); err != nil {
		return fmt.Errorf("observe: could not store transition: %v", err)
	}

	t.prevStep = nextStep
	t.stepsTaken++
	return nil
}

// EndEpisode performs cleanup at the end of an episode.
func (t *TD3) EndEpisode() {}

// Eval sets the algorithm into evaluation mode
func (t *TD3) Eval() {
	t.eval = true
	t.behaviour.Eval()
}

// Train sets the algorithm into training mode
func (t *TD3) Train() {
	t.eval = false
	t.behaviour.Train()
}

// IsEval returns whether the algorithm is in evaluation mode
func (t *TD3) IsEval() bool { return t.eval }

// Step updates the agent. Updates begin once updateAfter environment
// steps have been observed and run in batches: every updateEvery
// steps, updateEvery update iterations are performed back to back.
// The policy and target networks are updated on every policyDelay-th
// iteration.
func (t *TD3) Step() error {
	if t.eval || t.stepsTaken < t.updateAfter ||
		t.stepsTaken%t.updateEvery != 0 {
		return nil
	}

	for i := 0; i < t.updateEvery; i++ {
		obs, act, rew, obs2, done, err := t.replay.Sample()
		if err != nil {
			if expreplay.IsEmptyBuffer(err) ||
				expreplay.IsInsufficientSamples(err) {
				return nil
			}
			return fmt.Errorf("step: could not sample replay buffer: %v",
				err)
		}

		if err := t.update(obs, act, rew, obs2, done, i); err != nil {
			return fmt.Errorf("step: %v", err)
		}
	}
	return nil
}

// update performs a single update iteration on a sampled batch. The
// timer argument is the index of the iteration within the current
// batch of updates and controls the delayed policy update.
func (t *TD3) update(obs, act, rew, obs2, done []float64,
	timer int) error {
	// Smoothed target policy actions at the next states
	if err := t.target.policy.SetInput(obs2); err != nil {
		return fmt.Errorf("update: could not set target policy input: %v",
			err)
	}
	if err := t.targetPolicyVM.RunAll(); err != nil {
		return fmt.Errorf("update: could not run target policy: %v", err)
	}
	piTarg := t.target.policy.Output()[0].Data().([]float64)
	noise := make([]float64, len(piTarg))
	for i := range noise {
		noise[i] = t.targetNoise * t.rng.NormFloat64()
	}
	act2 := smoothTargetAction(piTarg, noise, t.noiseClip, t.actLimit)
	t.targetPolicyVM.Reset()

	// Bellman backup from the minimum of the twin target predictions
	// at the next states
	err := letInput(t.tObs, obs2, t.batchSize, t.features)
	if err == nil {
		err = letInput(t.tAct, act2, t.batchSize, t.actionDims)
	}
	if err != nil {
		return fmt.Errorf("update: could not set target inputs: %v", err)
	}
	if err := t.targetQVM.RunAll(); err != nil {
		return fmt.Errorf("update: could not run target value "+
			"functions: %v", err)
	}
	q1Targ := t.target.qfunc1.Output()[0].Data().([]float64)
	q2Targ := t.target.qfunc2.Output()[0].Data().([]float64)
	backup := bellmanBackup(rew, done, q1Targ, q2Targ, t.gamma)
	t.targetQVM.Reset()

	// Gradient step on the twin value functions
	err = letInput(t.qObs, obs, t.batchSize, t.features)
	if err == nil {
		err = letInput(t.qAct, act, t.batchSize, t.actionDims)
	}
	if err == nil {
		err = letInput(t.qBackup, backup, t.batchSize, 1)
	}
	if err != nil {
		return fmt.Errorf("update: could not set value function "+
			"inputs: %v", err)
	}
	if err := t.qVM.RunAll(); err != nil {
		return fmt.Errorf("update: could not run value functions: %v", err)
	}
	// The output slices are reused on the next run, so copy them
	q1Vals := t.online.qfunc1.Output()[0].Data().([]float64)
	q2Vals := t.online.qfunc2.Output()[0].Data().([]float64)
	qVals := map[string][]float64{
		"Q1Values": append([]float64(nil), q1Vals...),
		"Q2Values": append([]float64(nil), q2Vals...),
	}
	metrics := map[string]float64{
		"QLoss": t.qLossVal.Data().(float64),
	}
	if err := t.qSolver.Step(t.qModel); err != nil {
		return fmt.Errorf("update: could not step value function "+
			"solver: %v", err)
	}
	t.qVM.Reset()

	// Delayed policy and target network updates
	if timer%t.policyDelay == 0 {
		if err := t.frozenQ.Set(t.online.qfunc1); err != nil {
			return fmt.Errorf("update: could not refresh frozen value "+
				"function: %v", err)
		}
		if err := letInput(t.piObs, obs, t.batchSize, t.features); err != nil {
			return fmt.Errorf("update: could not set policy input: %v", err)
		}
		if err := t.policyVM.RunAll(); err != nil {
			return fmt.Errorf("update: could not run policy: %v", err)
		}
		metrics["PolicyLoss"] = t.policyLossVal.Data().(float64)
		if err := t.policySolver.Step(t.trainPolicy.Model()); err != nil {
			return fmt.Errorf("update: could not step policy solver: %v",
				err)
		}
		t.policyVM.Reset()

		if err := t.behaviour.Network().Set(t.trainPolicy); err != nil {
			return fmt.Errorf("update: could not sync behaviour "+
				"policy: %v", err)
		}
		if err := t.target.polyak(t.online, t.polyak); err != nil {
			return fmt.Errorf("update: %v", err)
		}
	}

	t.recorder.StoreSlice(qVals)
	t.recorder.Store(metrics)
	return nil
}

// TdError implements the agent.TdErrorer interface; it always panics.
func (t *TD3) TdError(ts.Transition) float64 {
	panic("tderror: not implemented")
}

// Close cleans up the agent's resources.
func (t *TD3) Close() error {
	if err := t.policyVM.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	if err := t.qVM.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	if err := t.targetPolicyVM.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	if err := t.targetQVM.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	return t.behaviour.Close()
}

// letInput sets the value of a matrix input node to the given backing
// data.
func letInput(node *G.Node, data []float64, rows, cols int) error {
	if len(data) != rows*cols {
		return fmt.Errorf("letinput: invalid data length \n\twant(%v)"+
			"\n\thave(%v)", rows*cols, len(data))
	}
	input := tensor.NewDense(tensor.Float64, []int{rows, cols},
		tensor.WithBacking(data))
	return G.Let(node, input)
}

// smoothTargetAction computes the target policy smoothing of an
// action: the noise is clipped to [-noiseClip, noiseClip], added to
// the action, and the result is clipped to the action bounds.
func smoothTargetAction(action, noise []float64, noiseClip,
	actLimit float64) []float64 {
	smoothed := make([]float64, len(action))
	for i := range action {
		eps := floatutils.Clip(noise[i], -noiseClip, noiseClip)
		smoothed[i] = floatutils.Clip(action[i]+eps, -actLimit, actLimit)
	}
	return smoothed
}

// bellmanBackup computes the update target of both value functions:
// the reward plus the discounted minimum of the twin target value
// predictions at the next state. Terminal transitions do not
// bootstrap.
func bellmanBackup(rew, done, q1, q2 []float64, gamma float64) []float64 {
	backup := make([]float64, len(rew))
	for i := range rew {
		backup[i] = rew[i] + gamma*(1-done[i])*floatutils.Min(q1[i], q2[i])
	}
	return backup
}
