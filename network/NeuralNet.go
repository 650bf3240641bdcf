// Package network implements neural networks as Gorgonia expression
// graphs
package network

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NeuralNet implements a neural network held in a Gorgonia
// computational graph. A NeuralNet may have many output layers, each
// of which produces a prediction.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)
	cloneWithInputTo(axis int, inputs []*G.Node,
		g *G.ExprGraph) (NeuralNet, error)
	BatchSize() int
	Features() int
	Outputs() int
	OutputLayers() int
	SetInput([]float64) error
	Set(NeuralNet) error
	Polyak(NeuralNet, float64) error
	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() []G.Value
	Prediction() []*G.Node
}

// setWeights sets the weights of dest to be equal to the weights of
// source. Networks must share architectures so that their learnables
// correspond.
func setWeights(dest, source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// polyakWeights sets the weights of dest to be an exponential average
// of its existing weights and the weights of source:
//
//	dest = tau*dest + (1-tau)*source
//
// Networks must share architectures so that their learnables
// correspond.
func polyakWeights(dest, source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		err = G.Let(nodes[i], newWeights)
		if err != nil {
			return err
		}
	}
	return nil
}
