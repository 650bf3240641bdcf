package expreplay

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gopolgrad/timestep"
)

func transition(id float64, terminal bool) timestep.Transition {
	return timestep.Transition{
		State:     mat.NewVecDense(2, []float64{id, id + 0.1}),
		Action:    mat.NewVecDense(1, []float64{-id}),
		Reward:    id * 10,
		NextState: mat.NewVecDense(2, []float64{id + 1, id + 1.1}),
		Terminal:  terminal,
	}
}

func TestSampleErrors(t *testing.T) {
	buffer, err := New(3, 10, 2, 2, 1, 42)
	if err != nil {
		t.Fatalf("could not construct buffer: %v", err)
	}

	_, _, _, _, _, err = buffer.Sample()
	if !IsEmptyBuffer(err) {
		t.Errorf("sampling an empty buffer should report an empty cache, "+
			"got: %v", err)
	}

	if err := buffer.Add(transition(1, false)); err != nil {
		t.Fatalf("could not add transition: %v", err)
	}

	_, _, _, _, _, err = buffer.Sample()
	if !IsInsufficientSamples(err) {
		t.Errorf("sampling below minimum capacity should report "+
			"insufficient samples, got: %v", err)
	}
	if IsEmptyBuffer(err) {
		t.Error("insufficient samples misreported as empty cache")
	}
}

func TestSampleBatch(t *testing.T) {
	batchSize := 4
	buffer, err := New(1, 10, batchSize, 2, 1, 42)
	if err != nil {
		t.Fatalf("could not construct buffer: %v", err)
	}

	if err := buffer.Add(transition(1, true)); err != nil {
		t.Fatalf("could not add transition: %v", err)
	}

	states, actions, rewards, nextStates, terminals, err := buffer.Sample()
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	if len(states) != batchSize*2 || len(nextStates) != batchSize*2 {
		t.Errorf("incorrect state batch size \n\twant(%v) \n\thave(%v)",
			batchSize*2, len(states))
	}
	if len(actions) != batchSize {
		t.Errorf("incorrect action batch size \n\twant(%v) \n\thave(%v)",
			batchSize, len(actions))
	}

	// Only one stored transition, so every sample is that transition
	for i := 0; i < batchSize; i++ {
		if states[i*2] != 1.0 || states[i*2+1] != 1.1 {
			t.Errorf("incorrect sampled state at %v: %v", i, states[i*2:i*2+2])
		}
		if actions[i] != -1.0 {
			t.Errorf("incorrect sampled action \n\twant(%v) \n\thave(%v)",
				-1.0, actions[i])
		}
		if rewards[i] != 10.0 {
			t.Errorf("incorrect sampled reward \n\twant(%v) \n\thave(%v)",
				10.0, rewards[i])
		}
		if nextStates[i*2] != 2.0 {
			t.Errorf("incorrect sampled next state \n\twant(%v) \n\thave(%v)",
				2.0, nextStates[i*2])
		}
		if terminals[i] != 1.0 {
			t.Errorf("incorrect terminal flag \n\twant(%v) \n\thave(%v)",
				1.0, terminals[i])
		}
	}
}

func TestFifoOverwrite(t *testing.T) {
	maxCap := 3
	buffer, err := New(1, maxCap, 1, 2, 1, 42)
	if err != nil {
		t.Fatalf("could not construct buffer: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := buffer.Add(transition(float64(i), false)); err != nil {
			t.Fatalf("could not add transition %v: %v", i, err)
		}
	}

	if buffer.Capacity() != maxCap {
		t.Errorf("incorrect capacity \n\twant(%v) \n\thave(%v)", maxCap,
			buffer.Capacity())
	}

	// Transitions 0 and 1 were overwritten, so only rewards of
	// transitions 2, 3, 4 should remain
	remaining := map[float64]bool{20.0: true, 30.0: true, 40.0: true}
	for i := 0; i < 50; i++ {
		_, _, rewards, _, _, err := buffer.Sample()
		if err != nil {
			t.Fatalf("could not sample: %v", err)
		}
		if !remaining[rewards[0]] {
			t.Fatalf("sampled an evicted transition with reward %v",
				rewards[0])
		}
	}
}

func TestAddSizeValidation(t *testing.T) {
	buffer, err := New(1, 10, 1, 2, 1, 42)
	if err != nil {
		t.Fatalf("could not construct buffer: %v", err)
	}

	badState := timestep.Transition{
		State:     mat.NewVecDense(3, nil),
		Action:    mat.NewVecDense(1, nil),
		NextState: mat.NewVecDense(3, nil),
	}
	if err := buffer.Add(badState); err == nil {
		t.Error("adding a transition with the wrong state size should fail")
	}

	badAction := timestep.Transition{
		State:     mat.NewVecDense(2, nil),
		Action:    mat.NewVecDense(2, nil),
		NextState: mat.NewVecDense(2, nil),
	}
	if err := buffer.Add(badAction); err == nil {
		t.Error("adding a transition with the wrong action size should fail")
	}
}
