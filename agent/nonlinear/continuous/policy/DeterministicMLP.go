package policy

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/gopolgrad/agent"
	"github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/network"
	"github.com/samuelfneumann/gopolgrad/timestep"
	"github.com/samuelfneumann/gopolgrad/utils/floatutils"
)

// DeterministicActLimitMLP implements a deterministic policy over a
// bounded continuous action space, parameterized by an MLP with a
// scaled tanh output. In training mode, spherical Gaussian exploration
// noise is added to the policy's actions, and the noisy actions are
// clipped to stay within the action bounds. In evaluation mode,
// actions are taken exactly as predicted.
type DeterministicActLimitMLP struct {
	vm  G.VM
	net network.NeuralNet

	actionDims  int
	actLimit    float64
	actionNoise float64
	normal      distmv.Rander
	eval        bool
}

// NewDeterministicActLimitMLP returns a new deterministic policy over
// the action space of env. The hiddenSizes, biases, and activations
// parameters define the MLP parameterization of the policy; a final
// tanh layer scaled by the environment's action bounds is always
// added. The actionNoise parameter is the standard deviation of the
// exploration noise added to the policy's actions in training mode.
func NewDeterministicActLimitMLP(env environment.Environment,
	actionNoise float64, hiddenSizes []int, biases []bool,
	activations []*network.Activation, init G.InitWFn,
	seed uint64) (agent.NNPolicy, error) {

	if env.ActionSpec().Cardinality != environment.Continuous {
		panic("newdeterministicactlimitmlp: actions should be continuous")
	}

	features := env.ObservationSpec().Shape.Len()
	actionDims := env.ActionSpec().Shape.Len()
	actLimit := env.ActionSpec().UpperBound.AtVec(0)

	net, err := network.NewBoundedMLP(features, 1, actionDims, actLimit,
		G.NewGraph(), hiddenSizes, biases, init, activations)
	if err != nil {
		return nil, fmt.Errorf("newdeterministicactlimitmlp: could not "+
			"construct policy network: %v", err)
	}

	means := make([]float64, actionDims)
	stds := mat.NewDiagDense(actionDims, floatutils.Ones(actionDims))
	source := rand.NewSource(seed)
	normal, ok := distmv.NewNormal(means, stds, source)
	if !ok {
		panic("newdeterministicactlimitmlp: could not create standard " +
			"normal for exploration noise")
	}

	return &DeterministicActLimitMLP{
		vm:  G.NewTapeMachine(net.Graph()),
		net: net,

		actionDims:  actionDims,
		actLimit:    actLimit,
		actionNoise: actionNoise,
		normal:      normal,
	}, nil
}

// SelectAction selects and returns an action at the argument timestep
// t.
func (d *DeterministicActLimitMLP) SelectAction(
	t timestep.TimeStep) *mat.VecDense {
	obs := t.Observation.(*mat.VecDense).RawVector().Data
	if err := d.net.SetInput(obs); err != nil {
		panic(fmt.Sprintf("selectaction: cannot set input: %v", err))
	}

	if err := d.vm.RunAll(); err != nil {
		panic(fmt.Sprintf("selectaction: could not run policy VM: %v", err))
	}
	defer d.vm.Reset()

	action := make([]float64, d.actionDims)
	copy(action, d.net.Output()[0].Data().([]float64))

	if !d.eval {
		eps := d.normal.Rand(nil)
		for i := range action {
			action[i] += d.actionNoise * eps[i]
			action[i] = floatutils.Clip(action[i], -d.actLimit, d.actLimit)
		}
	}

	return mat.NewVecDense(d.actionDims, action)
}

// Eval sets the policy to evaluation mode
func (d *DeterministicActLimitMLP) Eval() {
	d.eval = true
}

// Train sets the policy to training mode
func (d *DeterministicActLimitMLP) Train() {
	d.eval = false
}

// IsEval returns whether the policy is in evaluation mode
func (d *DeterministicActLimitMLP) IsEval() bool {
	return d.eval
}

// Clone clones a DeterministicActLimitMLP
func (d *DeterministicActLimitMLP) Clone() (agent.NNPolicy, error) {
	panic("clone: not implemented")
}

// CloneWithBatch clones a DeterministicActLimitMLP with a new batch
// size
func (d *DeterministicActLimitMLP) CloneWithBatch(
	batch int) (agent.NNPolicy, error) {
	panic("clonewithbatch: not implemented")
}

// Network returns the network of the DeterministicActLimitMLP
func (d *DeterministicActLimitMLP) Network() network.NeuralNet {
	return d.net
}

// Close cleans up the policy's resources
func (d *DeterministicActLimitMLP) Close() error {
	return d.vm.Close()
}
