package a2c

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r1"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/environment/classiccontrol/pendulum"
	"github.com/samuelfneumann/gopolgrad/logger"
	"github.com/samuelfneumann/gopolgrad/network"
)

// countingAverager counts how many times the gradient averaging hook
// is invoked, so that tests can verify the number of solver steps
// taken per update.
type countingAverager struct {
	gradCalls int
	meanCalls int
}

func (c *countingAverager) AverageGradients([]G.ValueGrad) error {
	c.gradCalls++
	return nil
}

func (c *countingAverager) Average(x float64) float64 {
	c.meanCalls++
	return x
}

func (c *countingAverager) NumWorkers() int { return 1 }

func (c *countingAverager) Close() {}

// mapRecorder records the last metrics map stored to it.
type mapRecorder struct {
	last map[string]float64
}

func (m *mapRecorder) Store(vals map[string]float64) { m.last = vals }

func (m *mapRecorder) StoreSlice(map[string][]float64) {}

func (m *mapRecorder) LogTabular(string, float64) {}

func (m *mapRecorder) DumpTabular(...logger.Stat) (map[string]float64,
	error) {
	return nil, nil
}

func testEnv(t *testing.T, seed uint64) environment.Environment {
	t.Helper()

	s := environment.NewUniformStarter([]r1.Interval{
		{Min: -0.1, Max: 0.1},
		{Min: -0.1, Max: 0.1},
	}, seed)
	task := pendulum.NewSwingUp(s, 1000)
	env, _ := pendulum.NewContinuous(task, 0.99)
	return env
}

func testConfig(epochLength, valueGradSteps int) GaussianTreeMLPConfig {
	c := DefaultGaussianTreeMLPConfig()
	c.EpochLength = epochLength
	c.ValueGradSteps = valueGradSteps
	c.RootLayers = []int{8}
	c.RootBiases = []bool{true}
	c.RootActivations = []*network.Activation{network.ReLU()}
	c.ValueFnLayers = []int{8}
	c.ValueFnBiases = []bool{true}
	c.ValueFnActivations = []*network.Activation{network.ReLU()}
	return c
}

// TestStepCounts checks that an update takes exactly one policy
// gradient step and the configured number of value gradient steps,
// and that an update happens only once a full epoch of data has been
// collected.
func TestStepCounts(t *testing.T) {
	const epochLength int = 8
	const valueGradSteps int = 3

	env := testEnv(t, 11)
	averager := &countingAverager{}
	recorder := &mapRecorder{}

	c := testConfig(epochLength, valueGradSteps)
	c.Averager = averager
	c.Recorder = recorder

	ag, err := c.CreateAgent(env, 11)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	a := ag.(*A2C)
	defer a.Close()

	step := env.Reset()
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("observefirst: unexpected error: %v", err)
	}

	for i := 0; i < epochLength; i++ {
		// No update should happen before the epoch is full
		if err := a.Step(); err != nil {
			t.Fatalf("step: unexpected error: %v", err)
		}
		if averager.gradCalls != 0 {
			t.Fatalf("update happened before the epoch was full at "+
				"step %d", i)
		}

		action := a.SelectAction(step)
		next, _ := env.Step(action)
		if err := a.Observe(action, next); err != nil {
			t.Fatalf("observe: unexpected error: %v", err)
		}
		step = next
	}

	if err := a.Step(); err != nil {
		t.Fatalf("step: unexpected error: %v", err)
	}

	expectedCalls := 1 + valueGradSteps
	if averager.gradCalls != expectedCalls {
		t.Errorf("incorrect number of solver steps \n\twant(%v)\n\thave(%v)",
			expectedCalls, averager.gradCalls)
	}
	if averager.meanCalls != 1 {
		t.Errorf("KL should be averaged exactly once per update "+
			"\n\twant(1)\n\thave(%v)", averager.meanCalls)
	}
	if a.CompletedEpochs() != 1 {
		t.Errorf("incorrect number of completed epochs \n\twant(1)"+
			"\n\thave(%v)", a.CompletedEpochs())
	}
}

// TestUpdateMetrics checks that an update stores the expected metrics
// and that the value function loss is sensible.
func TestUpdateMetrics(t *testing.T) {
	const epochLength int = 8

	env := testEnv(t, 37)
	recorder := &mapRecorder{}

	c := testConfig(epochLength, 2)
	c.Recorder = recorder

	ag, err := c.CreateAgent(env, 37)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	a := ag.(*A2C)
	defer a.Close()

	step := env.Reset()
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("observefirst: unexpected error: %v", err)
	}
	for i := 0; i < epochLength; i++ {
		action := a.SelectAction(step)
		next, _ := env.Step(action)
		if err := a.Observe(action, next); err != nil {
			t.Fatalf("observe: unexpected error: %v", err)
		}
		step = next
	}
	if err := a.Step(); err != nil {
		t.Fatalf("step: unexpected error: %v", err)
	}

	if recorder.last == nil {
		t.Fatal("no metrics were recorded for the update")
	}

	for _, key := range []string{"PolicyLoss", "ValueLoss", "KL", "Entropy",
		"DeltaPolLoss", "DeltaValLoss"} {
		if _, ok := recorder.last[key]; !ok {
			t.Errorf("metric %v was not recorded", key)
		}
	}

	if loss := recorder.last["ValueLoss"]; loss < 0 {
		t.Errorf("value function loss cannot be negative \n\thave(%v)", loss)
	}
}

// TestGaussianLogPdf checks the log density computation against
// hand-computed values.
func TestGaussianLogPdf(t *testing.T) {
	halfLog2Pi := 0.5 * math.Log(2*math.Pi)

	// Standard normal at its mean
	logp := gaussianLogPdf([]float64{0.0}, []float64{1.0}, []float64{0.0})
	if math.Abs(logp-(-halfLog2Pi)) > tolerance {
		t.Errorf("incorrect log density \n\twant(%v)\n\thave(%v)",
			-halfLog2Pi, logp)
	}

	// Multi-dimensional actions sum the per-dimension densities
	logp = gaussianLogPdf([]float64{0.0, 0.0}, []float64{1.0, 1.0},
		[]float64{0.0, 0.0})
	if math.Abs(logp-(-2*halfLog2Pi)) > tolerance {
		t.Errorf("incorrect log density \n\twant(%v)\n\thave(%v)",
			-2*halfLog2Pi, logp)
	}

	// One standard deviation from the mean
	logp = gaussianLogPdf([]float64{1.0}, []float64{2.0}, []float64{3.0})
	expected := -0.5 - math.Log(2.0) - halfLog2Pi
	if math.Abs(logp-expected) > tolerance {
		t.Errorf("incorrect log density \n\twant(%v)\n\thave(%v)",
			expected, logp)
	}
}
