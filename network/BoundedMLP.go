package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// boundedMLP implements an MLP whose outputs are squashed by tanh and
// scaled to lie in [-actLimit, actLimit]. It is used as a
// deterministic policy network over bounded continuous action spaces.
type boundedMLP struct {
	NeuralNet // MLP with a tanh output layer

	actLimit   float64
	prediction *G.Node
	predVal    G.Value
}

// newBoundedMLPFrom wraps an existing network whose output is in
// [-1, 1], scaling the output to [-actLimit, actLimit].
func newBoundedMLPFrom(inner NeuralNet, actLimit float64) (NeuralNet, error) {
	if inner.OutputLayers() != 1 {
		return nil, fmt.Errorf("newboundedmlp: expected a single output "+
			"layer \n\twant(1) \n\thave(%v)", inner.OutputLayers())
	}

	limit := G.NewConstant(actLimit)
	prediction, err := G.Mul(inner.Prediction()[0], limit)
	if err != nil {
		return nil, fmt.Errorf("newboundedmlp: could not scale output: %v",
			err)
	}

	net := &boundedMLP{
		NeuralNet:  inner,
		actLimit:   actLimit,
		prediction: prediction,
	}
	G.Read(net.prediction, &net.predVal)

	return net, nil
}

// NewBoundedMLPFromInput returns a new bounded MLP that has a specific
// node as its input node. The network has len(hiddenSizes) + 1 layers:
// a final tanh layer is added and its output is scaled so that all
// predicted actions lie in [-actLimit, actLimit]. The prefix argument
// is added to all weight node names so that many networks may share a
// single graph.
func NewBoundedMLPFromInput(input *G.Node, actions int, actLimit float64,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix string) (NeuralNet, error) {
	if actLimit <= 0 {
		return nil, fmt.Errorf("newboundedmlp: action limit must be "+
			"positive \n\twant(> 0) \n\thave(%v)", actLimit)
	}

	// Add the bounded output layer
	sizes := make([]int, len(hiddenSizes), len(hiddenSizes)+1)
	copy(sizes, hiddenSizes)
	sizes = append(sizes, actions)

	b := make([]bool, len(biases), len(biases)+1)
	copy(b, biases)
	b = append(b, true)

	acts := make([]*Activation, len(activations), len(activations)+1)
	copy(acts, activations)
	acts = append(acts, TanH())

	inner, err := newMultiHeadMLPFromInput([]*G.Node{input}, actions, g,
		sizes, b, init, acts, prefix, "", false)
	if err != nil {
		return nil, fmt.Errorf("newboundedmlp: %v", err)
	}

	return newBoundedMLPFrom(inner, actLimit)
}

// NewBoundedMLP returns a new MLP whose outputs are squashed by tanh
// and scaled so that all predicted actions lie in
// [-actLimit, actLimit].
//
// See NewBoundedMLPFromInput for more details.
func NewBoundedMLP(features, batch, actions int, actLimit float64,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	return NewBoundedMLPFromInput(input, actions, actLimit, g, hiddenSizes,
		biases, init, activations, "")
}

// ActLimit returns the maximum magnitude of any action predicted by
// the network.
func (b *boundedMLP) ActLimit() float64 {
	return b.actLimit
}

// Clone clones a boundedMLP
func (b *boundedMLP) Clone() (NeuralNet, error) {
	return b.CloneWithBatch(b.BatchSize())
}

// CloneWithBatch clones a boundedMLP with a new input batch size.
func (b *boundedMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	inner, err := b.NeuralNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("clonewithbatch: %v", err)
	}

	return newBoundedMLPFrom(inner, b.actLimit)
}

// cloneWithInputTo clones a boundedMLP to a specific computational
// graph with a specified input node.
func (b *boundedMLP) cloneWithInputTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	inner, err := b.NeuralNet.cloneWithInputTo(axis, inputs, graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}

	return newBoundedMLPFrom(inner, b.actLimit)
}

// Output returns the output of the boundedMLP.
func (b *boundedMLP) Output() []G.Value {
	return []G.Value{b.predVal}
}

// Prediction returns the node of the computational graph that stores
// the output of the boundedMLP
func (b *boundedMLP) Prediction() []*G.Node {
	return []*G.Node{b.prediction}
}
