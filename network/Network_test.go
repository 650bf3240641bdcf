package network

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
)

func newTestMLP(t *testing.T, init G.InitWFn) NeuralNet {
	g := G.NewGraph()
	net, err := NewMultiHeadMLP(3, 1, 2, g, []int{4, 5},
		[]bool{true, false}, init, []*Activation{ReLU(), TanH()})
	if err != nil {
		t.Fatalf("could not construct MLP: %v", err)
	}
	return net
}

func TestLearnables(t *testing.T) {
	net := newTestMLP(t, G.Zeroes())

	// Two hidden layers (one without a bias) plus the final linear
	// layer with a bias
	wantLearnables := 5
	if len(net.Learnables()) != wantLearnables {
		t.Errorf("incorrect number of learnables \n\twant(%v) \n\thave(%v)",
			wantLearnables, len(net.Learnables()))
	}

	if len(net.Model()) != wantLearnables {
		t.Errorf("incorrect model size \n\twant(%v) \n\thave(%v)",
			wantLearnables, len(net.Model()))
	}
}

func TestSet(t *testing.T) {
	source := newTestMLP(t, G.ValuesOf(0.5))
	dest := newTestMLP(t, G.ValuesOf(-1.0))

	if err := dest.Set(source); err != nil {
		t.Fatalf("could not set weights: %v", err)
	}

	for i, learnable := range dest.Learnables() {
		values := learnable.Value().Data().([]float64)
		for _, v := range values {
			if v != 0.5 {
				t.Fatalf("learnable %v not copied \n\twant(%v) \n\thave(%v)",
					i, 0.5, v)
			}
		}
	}
}

func TestPolyak(t *testing.T) {
	source := newTestMLP(t, G.ValuesOf(1.0))
	dest := newTestMLP(t, G.Zeroes())

	tau := 0.9
	if err := dest.Polyak(source, tau); err != nil {
		t.Fatalf("could not average weights: %v", err)
	}

	// dest = tau*dest + (1-tau)*source = 0.9*0.0 + 0.1*1.0
	want := 0.1
	for i, learnable := range dest.Learnables() {
		values := learnable.Value().Data().([]float64)
		for _, v := range values {
			if math.Abs(v-want) > 1e-10 {
				t.Fatalf("learnable %v not averaged \n\twant(%v) "+
					"\n\thave(%v)", i, want, v)
			}
		}
	}

	// Source weights should be untouched
	for i, learnable := range source.Learnables() {
		values := learnable.Value().Data().([]float64)
		for _, v := range values {
			if v != 1.0 {
				t.Fatalf("averaging modified source learnable %v "+
					"\n\twant(%v) \n\thave(%v)", i, 1.0, v)
			}
		}
	}
}

func TestCloneWithBatch(t *testing.T) {
	net := newTestMLP(t, G.ValuesOf(0.25))

	clone, err := net.CloneWithBatch(16)
	if err != nil {
		t.Fatalf("could not clone network: %v", err)
	}

	if clone.BatchSize() != 16 {
		t.Errorf("incorrect clone batch size \n\twant(%v) \n\thave(%v)",
			16, clone.BatchSize())
	}
	if clone.Graph() == net.Graph() {
		t.Error("clone should live in a new graph")
	}

	for i, learnable := range clone.Learnables() {
		values := learnable.Value().Data().([]float64)
		for _, v := range values {
			if v != 0.25 {
				t.Fatalf("clone learnable %v differs \n\twant(%v) "+
					"\n\thave(%v)", i, 0.25, v)
			}
		}
	}
}

func TestBoundedMLPPrediction(t *testing.T) {
	g := G.NewGraph()
	net, err := NewBoundedMLP(3, 1, 2, 2.0, g, []int{4}, []bool{true},
		G.Zeroes(), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not construct bounded MLP: %v", err)
	}

	if net.OutputLayers() != 1 {
		t.Errorf("incorrect number of output layers \n\twant(%v) "+
			"\n\thave(%v)", 1, net.OutputLayers())
	}
	if net.Outputs() != 2 {
		t.Errorf("incorrect number of outputs \n\twant(%v) \n\thave(%v)",
			2, net.Outputs())
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()

	if err := net.SetInput([]float64{0.1, -0.2, 0.3}); err != nil {
		t.Fatalf("could not set input: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run forward pass: %v", err)
	}
	defer vm.Reset()

	actions := net.Output()[0].Data().([]float64)
	if len(actions) != 2 {
		t.Fatalf("incorrect number of actions \n\twant(%v) \n\thave(%v)",
			2, len(actions))
	}
	for _, a := range actions {
		if math.Abs(a) > 2.0 {
			t.Errorf("action outside of bounds \n\twant(±%v) \n\thave(%v)",
				2.0, a)
		}
	}
}
