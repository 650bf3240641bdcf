package timestep

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestTerminalEnd(t *testing.T) {
	obs := mat.NewVecDense(2, []float64{0.1, -0.2})

	tests := []struct {
		stepType StepType
		discount float64
		terminal bool
	}{
		{First, 0.99, false},
		{Mid, 0.99, false},
		{Last, 0.99, false}, // timeout, still bootstraps
		{Last, 0.0, true},   // absorbing state
		{Mid, 0.0, false},
	}

	for _, test := range tests {
		step := New(test.stepType, 0.0, test.discount, obs, 1)
		if step.TerminalEnd() != test.terminal {
			t.Errorf("terminalEnd: step type %v with discount %v: want %v",
				test.stepType, test.discount, test.terminal)
		}
	}
}

func TestNewTransition(t *testing.T) {
	state := mat.NewVecDense(2, []float64{1.0, 2.0})
	nextState := mat.NewVecDense(2, []float64{3.0, 4.0})
	action := mat.NewVecDense(1, []float64{-0.5})

	step := New(Mid, 0.0, 0.99, state, 3)
	nextStep := New(Last, -1.5, 0.0, nextState, 4)

	transition := NewTransition(step, action, nextStep)

	if transition.Reward != -1.5 {
		t.Errorf("transition reward \n\twant(%v)\n\thave(%v)", -1.5,
			transition.Reward)
	}
	if !transition.Terminal {
		t.Error("transition into an absorbing state should be terminal")
	}
	if transition.State.AtVec(0) != 1.0 || transition.NextState.AtVec(1) != 4.0 {
		t.Error("transition states do not match the input timesteps")
	}

	// Timeouts are not terminal
	timeout := New(Last, -1.5, 0.99, nextState, 4)
	if NewTransition(step, action, timeout).Terminal {
		t.Error("transition into a timeout step should not be terminal")
	}
}
