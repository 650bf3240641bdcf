package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NewStateActionMLPFromInputs returns an MLP which predicts a single
// action value from a state observation input node and an action input
// node. The two input nodes are concatenated along the feature
// (column) dimension, so both must be matrix nodes with the same batch
// dimension. The prefix argument is added to all weight node names so
// that many state-action MLPs may share a single graph and set of
// input nodes.
func NewStateActionMLPFromInputs(obs, action *G.Node, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix string) (NeuralNet, error) {
	if obs.Graph() != g || action.Graph() != g {
		return nil, fmt.Errorf("newstateactionmlp: inputs must share the " +
			"network's graph")
	}

	return newMultiHeadMLPFromInput([]*G.Node{obs, action}, 1, g,
		hiddenSizes, biases, init, activations, prefix, "", true)
}

// NewStateActionMLP returns an MLP which predicts a single action
// value from a state observation and an action. The observation and
// action input nodes are created on g and returned along with the
// network so that callers can set their values before running the
// forward pass.
func NewStateActionMLP(obsFeatures, actionFeatures, batch int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix string) (NeuralNet, *G.Node, *G.Node,
	error) {
	obs := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, obsFeatures),
		G.WithName(prefix+"obsInput"), G.WithInit(G.Zeroes()))
	action := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, actionFeatures), G.WithName(prefix+"actionInput"),
		G.WithInit(G.Zeroes()))

	net, err := NewStateActionMLPFromInputs(obs, action, g, hiddenSizes,
		biases, init, activations, prefix)
	if err != nil {
		return nil, nil, nil, err
	}

	return net, obs, action, nil
}
