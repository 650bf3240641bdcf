package td3

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/environment/classiccontrol/pendulum"
	"github.com/samuelfneumann/gopolgrad/logger"
	"github.com/samuelfneumann/gopolgrad/network"
)

const tolerance float64 = 1e-12

// sliceRecorder records every metrics map stored to it, in order.
type sliceRecorder struct {
	stored []map[string]float64
	sliced []map[string][]float64
}

func (s *sliceRecorder) Store(vals map[string]float64) {
	s.stored = append(s.stored, vals)
}

func (s *sliceRecorder) StoreSlice(vals map[string][]float64) {
	s.sliced = append(s.sliced, vals)
}

func (s *sliceRecorder) LogTabular(string, float64) {}

func (s *sliceRecorder) DumpTabular(...logger.Stat) (map[string]float64,
	error) {
	return nil, nil
}

func testEnv(seed uint64) environment.Environment {
	s := environment.NewUniformStarter([]r1.Interval{
		{Min: -0.1, Max: 0.1},
		{Min: -0.1, Max: 0.1},
	}, seed)
	task := pendulum.NewSwingUp(s, 1000)
	env, _ := pendulum.NewContinuous(task, 0.99)
	return env
}

func testConfig() Config {
	c := DefaultConfig()
	c.PolicyLayers = []int{8}
	c.PolicyBiases = []bool{true}
	c.PolicyActivations = []*network.Activation{network.ReLU()}
	c.QLayers = []int{8}
	c.QBiases = []bool{true}
	c.QActivations = []*network.Activation{network.ReLU()}
	c.BatchSize = 4
	c.ReplayCapacity = 100
	c.WarmupSteps = 0
	c.UpdateAfter = 4
	c.UpdateEvery = 2
	return c
}

// TestBellmanBackup checks the update target computation on
// hand-computed transitions.
func TestBellmanBackup(t *testing.T) {
	rew := []float64{1.0, 2.0}
	done := []float64{0.0, 1.0}
	q1 := []float64{5.0, 9.0}
	q2 := []float64{6.0, 7.0}

	backup := bellmanBackup(rew, done, q1, q2, 0.99)

	// The first transition bootstraps off min(5, 6); the second is
	// terminal, so its target is the reward alone
	expected := []float64{5.95, 2.0}
	for i := range expected {
		if math.Abs(backup[i]-expected[i]) > tolerance {
			t.Errorf("incorrect backup at index %d \n\twant(%v)\n\thave(%v)",
				i, expected[i], backup[i])
		}
	}
}

// TestSmoothTargetAction checks that target policy smoothing clips
// both the noise and the resulting action.
func TestSmoothTargetAction(t *testing.T) {
	action := []float64{0.0, 1.9, -1.9}
	noise := []float64{1.3, 0.2, -1.0}

	smoothed := smoothTargetAction(action, noise, 0.5, 2.0)

	// Noise clipped to [-0.5, 0.5], then the sum clipped to [-2, 2]
	expected := []float64{0.5, 2.0, -2.0}
	for i := range expected {
		if math.Abs(smoothed[i]-expected[i]) > tolerance {
			t.Errorf("incorrect smoothed action at index %d \n\twant(%v)"+
				"\n\thave(%v)", i, expected[i], smoothed[i])
		}
	}

	// Unclipped case
	smoothed = smoothTargetAction([]float64{1.0}, []float64{-0.3}, 0.5, 2.0)
	if math.Abs(smoothed[0]-0.7) > tolerance {
		t.Errorf("incorrect smoothed action \n\twant(%v)\n\thave(%v)", 0.7,
			smoothed[0])
	}
}

// TestWarmupActionBounds checks that warmup actions are sampled
// uniformly within the action bounds.
func TestWarmupActionBounds(t *testing.T) {
	env := testEnv(23)

	c := testConfig()
	c.WarmupSteps = 100

	ag, err := c.CreateAgent(env, 23)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	a := ag.(*TD3)
	defer a.Close()

	actLimit := env.ActionSpec().UpperBound.AtVec(0)

	step := env.Reset()
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("observefirst: unexpected error: %v", err)
	}
	for i := 0; i < 50; i++ {
		action := a.SelectAction(step)
		for j := 0; j < action.Len(); j++ {
			if math.Abs(action.AtVec(j)) > actLimit {
				t.Fatalf("warmup action outside bounds \n\twant(<= %v)"+
					"\n\thave(%v)", actLimit, action.AtVec(j))
			}
		}

		next, _ := env.Step(action)
		if err := a.Observe(action, next); err != nil {
			t.Fatalf("observe: unexpected error: %v", err)
		}
		step = next
	}
}

// TestUpdateBootstrapsFromNextState checks that an update's Bellman
// backup is computed from the target value functions evaluated at the
// next states of the batch, at the smoothed target actions for those
// same next states.
func TestUpdateBootstrapsFromNextState(t *testing.T) {
	env := testEnv(3)
	recorder := &sliceRecorder{}

	c := testConfig()
	c.TargetNoise = 0.0 // deterministic target actions
	c.Recorder = recorder

	ag, err := c.CreateAgent(env, 3)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	a := ag.(*TD3)
	defer a.Close()

	obs := []float64{0.1, 0.0, -0.2, 0.3, 1.0, -1.0, 0.5, 0.5}
	act := []float64{0.5, -0.5, 1.0, 0.0}
	rew := []float64{1.0, -1.0, 0.5, 0.0}
	obs2 := []float64{-0.3, 0.2, 0.8, -0.8, 0.0, 2.0, -1.5, 0.1}
	done := []float64{0.0, 0.0, 1.0, 0.0}

	// Target actions at the next states
	if err := a.target.policy.SetInput(obs2); err != nil {
		t.Fatalf("could not set target policy input: %v", err)
	}
	if err := a.targetPolicyVM.RunAll(); err != nil {
		t.Fatalf("could not run target policy: %v", err)
	}
	piTarg := a.target.policy.Output()[0].Data().([]float64)
	act2 := smoothTargetAction(piTarg, make([]float64, len(piTarg)),
		a.noiseClip, a.actLimit)
	a.targetPolicyVM.Reset()

	// Backup from the target value functions at the next states
	if err := letInput(a.tObs, obs2, a.batchSize, a.features); err != nil {
		t.Fatalf("could not set target inputs: %v", err)
	}
	if err := letInput(a.tAct, act2, a.batchSize, a.actionDims); err != nil {
		t.Fatalf("could not set target inputs: %v", err)
	}
	if err := a.targetQVM.RunAll(); err != nil {
		t.Fatalf("could not run target value functions: %v", err)
	}
	backup := bellmanBackup(rew, done,
		a.target.qfunc1.Output()[0].Data().([]float64),
		a.target.qfunc2.Output()[0].Data().([]float64), a.gamma)
	a.targetQVM.Reset()

	// The loss of the online value functions against that backup
	if err := letInput(a.qObs, obs, a.batchSize, a.features); err != nil {
		t.Fatalf("could not set value function inputs: %v", err)
	}
	if err := letInput(a.qAct, act, a.batchSize, a.actionDims); err != nil {
		t.Fatalf("could not set value function inputs: %v", err)
	}
	if err := letInput(a.qBackup, backup, a.batchSize, 1); err != nil {
		t.Fatalf("could not set value function inputs: %v", err)
	}
	if err := a.qVM.RunAll(); err != nil {
		t.Fatalf("could not run value functions: %v", err)
	}
	expected := a.qLossVal.Data().(float64)
	a.qVM.Reset()

	// An odd timer skips the policy and target network updates, so the
	// recorded loss is computed with the same weights as above
	if err := a.update(obs, act, rew, obs2, done, 1); err != nil {
		t.Fatalf("update: unexpected error: %v", err)
	}

	if len(recorder.stored) != 1 {
		t.Fatalf("incorrect number of metric stores \n\twant(1)\n\thave(%v)",
			len(recorder.stored))
	}
	qLoss := recorder.stored[0]["QLoss"]
	if math.Abs(qLoss-expected) > 1e-8 {
		t.Errorf("update target not computed at the next states "+
			"\n\twant(%v)\n\thave(%v)", expected, qLoss)
	}
}

// TestDelayedPolicyUpdates checks that updates begin only after
// UpdateAfter environment steps and that the policy is updated on
// every PolicyDelay-th update iteration only.
func TestDelayedPolicyUpdates(t *testing.T) {
	env := testEnv(71)
	recorder := &sliceRecorder{}

	c := testConfig()
	c.Recorder = recorder

	ag, err := c.CreateAgent(env, 71)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	a := ag.(*TD3)
	defer a.Close()

	step := env.Reset()
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("observefirst: unexpected error: %v", err)
	}

	for i := 0; i < c.UpdateAfter+2*c.UpdateEvery; i++ {
		if i < c.UpdateAfter && len(recorder.stored) != 0 {
			t.Fatalf("update happened before %v environment steps",
				c.UpdateAfter)
		}

		action := a.SelectAction(step)
		next, _ := env.Step(action)
		if err := a.Observe(action, next); err != nil {
			t.Fatalf("observe: unexpected error: %v", err)
		}
		step = next

		if err := a.Step(); err != nil {
			t.Fatalf("step: unexpected error: %v", err)
		}
	}

	if len(recorder.stored) == 0 {
		t.Fatal("no updates happened")
	}
	if len(recorder.stored)%c.UpdateEvery != 0 {
		t.Fatalf("updates must run %v iterations at a time \n\thave(%v)",
			c.UpdateEvery, len(recorder.stored))
	}

	// With PolicyDelay = 2, iterations alternate between updating the
	// policy and skipping it, starting with an update
	for i, metrics := range recorder.stored {
		_, hasPolicyLoss := metrics["PolicyLoss"]
		shouldUpdate := (i%c.UpdateEvery)%c.PolicyDelay == 0
		if hasPolicyLoss != shouldUpdate {
			t.Errorf("incorrect policy update at iteration %d \n\twant(%v)"+
				"\n\thave(%v)", i, shouldUpdate, hasPolicyLoss)
		}

		if _, ok := metrics["QLoss"]; !ok {
			t.Errorf("metric QLoss was not recorded at iteration %d", i)
		}
	}

	// The predicted values of each sample in the batch are recorded on
	// every iteration
	if len(recorder.sliced) != len(recorder.stored) {
		t.Fatalf("incorrect number of value predictions \n\twant(%v)"+
			"\n\thave(%v)", len(recorder.stored), len(recorder.sliced))
	}
	for i, vals := range recorder.sliced {
		for _, key := range []string{"Q1Values", "Q2Values"} {
			if len(vals[key]) != c.BatchSize {
				t.Errorf("%v should hold one prediction per batch sample "+
					"at iteration %d \n\twant(%v)\n\thave(%v)", key, i,
					c.BatchSize, len(vals[key]))
			}
		}
	}
}
