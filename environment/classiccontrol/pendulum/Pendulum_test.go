package pendulum

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/gopolgrad/environment"
)

// fixedStarter always starts episodes from the same state
type fixedStarter struct {
	state []float64
}

func (f fixedStarter) Start() mat.Vector {
	return mat.NewVecDense(len(f.state), f.state)
}

func TestSwingUpReward(t *testing.T) {
	task := NewSwingUp(fixedStarter{[]float64{math.Pi, 0.0}}, 500)

	angles := []float64{0.0, math.Pi / 2, math.Pi, -math.Pi / 2}
	for _, th := range angles {
		state := mat.NewVecDense(2, []float64{th, 0.0})
		reward := task.GetReward(nil, nil, state)

		if math.Abs(reward-math.Cos(th)) > 1e-10 {
			t.Errorf("incorrect reward at angle %v \n\twant(%v) "+
				"\n\thave(%v)", th, math.Cos(th), reward)
		}
	}
}

func TestContinuousStepBounds(t *testing.T) {
	task := NewSwingUp(fixedStarter{[]float64{math.Pi / 2, 0.0}}, 500)
	env, _ := NewContinuous(task, 0.99)

	// Overly large actions should be clipped to the torque bounds and
	// the resulting states should respect the state bounds
	for i := 0; i < 200; i++ {
		action := mat.NewVecDense(1, []float64{100.0})
		step, _ := env.Step(action)

		th := step.Observation.AtVec(0)
		thdot := step.Observation.AtVec(1)

		if th < -AngleBound || th > AngleBound {
			t.Fatalf("angle out of bounds \n\twant(±%v) \n\thave(%v)",
				AngleBound, th)
		}
		if thdot < -SpeedBound || thdot > SpeedBound {
			t.Fatalf("angular velocity out of bounds \n\twant(±%v) "+
				"\n\thave(%v)", SpeedBound, thdot)
		}
	}
}

func TestContinuousEpisodeCutoff(t *testing.T) {
	maxSteps := 10
	discount := 0.99
	task := NewSwingUp(fixedStarter{[]float64{math.Pi, 0.0}}, maxSteps)
	env, firstStep := NewContinuous(task, discount)

	if !firstStep.First() {
		t.Error("first timestep should have step type First")
	}

	var last bool
	step := firstStep
	for i := 0; i < maxSteps; i++ {
		if last {
			t.Fatalf("episode ended early at step %v", i)
		}
		step, last = env.Step(mat.NewVecDense(1, []float64{0.0}))
	}

	if !last {
		t.Error("episode should have ended at the step limit")
	}
	if step.TerminalEnd() {
		t.Error("step limit cutoffs should not be terminal ends")
	}
	if step.Discount != discount {
		t.Errorf("cutoff should not zero the discount \n\twant(%v) "+
			"\n\thave(%v)", discount, step.Discount)
	}

	// Resetting should produce a fresh first step
	reset := env.Reset()
	if !reset.First() || reset.Number != 0 {
		t.Error("reset should return the first step of a new episode")
	}
}

func TestStartStateNormalization(t *testing.T) {
	// Starters sampling around the hanging position can return angles
	// just past π; these should be wrapped, not rejected
	task := NewSwingUp(fixedStarter{[]float64{math.Pi + 0.25, 0.5}}, 500)
	env, firstStep := NewContinuous(task, 0.99)

	th := firstStep.Observation.AtVec(0)
	want := 0.25 - math.Pi
	if math.Abs(th-want) > 1e-10 {
		t.Errorf("start angle not normalized \n\twant(%v) \n\thave(%v)",
			want, th)
	}
	if firstStep.Observation.AtVec(1) != 0.5 {
		t.Errorf("angular velocity should be unchanged \n\twant(%v) "+
			"\n\thave(%v)", 0.5, firstStep.Observation.AtVec(1))
	}

	reset := env.Reset()
	th = reset.Observation.AtVec(0)
	if th < -AngleBound || th > AngleBound {
		t.Errorf("reset angle out of bounds \n\twant(±%v) \n\thave(%v)",
			AngleBound, th)
	}
}

func TestUniformStarterWithinBounds(t *testing.T) {
	bounds := []r1.Interval{
		{Min: -AngleBound, Max: AngleBound},
		{Min: -1.0, Max: 1.0},
	}
	starter := environment.NewUniformStarter(bounds, 13)

	for i := 0; i < 100; i++ {
		state := starter.Start()
		for j, interval := range bounds {
			if state.AtVec(j) < interval.Min || state.AtVec(j) > interval.Max {
				t.Fatalf("start state feature %v out of bounds \n\twant(%v) "+
					"\n\thave(%v)", j, interval, state.AtVec(j))
			}
		}
	}
}
