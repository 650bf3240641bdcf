package tracker

import (
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/gopolgrad/timestep"
)

// episode feeds a tracker a full episode with the argument rewards.
func episode(t Tracker, rewards []float64) {
	obs := mat.NewVecDense(1, []float64{0.0})
	for i, r := range rewards {
		stepType := ts.Mid
		discount := 1.0
		if i == 0 {
			stepType = ts.First
		}
		if i == len(rewards)-1 {
			stepType = ts.Last
			discount = 0.0
		}
		t.Track(ts.New(stepType, r, discount, obs, i))
	}
}

func TestReturn(t *testing.T) {
	file := filepath.Join(t.TempDir(), "returns.bin")
	track := NewReturn(file)

	episode(track, []float64{1.0, 2.0, 3.0})
	episode(track, []float64{-1.0, -1.0})

	if err := track.Save(); err != nil {
		t.Fatalf("save: unexpected error: %v", err)
	}

	returns, err := LoadData(file)
	if err != nil {
		t.Fatalf("loaddata: unexpected error: %v", err)
	}

	expected := []float64{6.0, -2.0}
	if len(returns) != len(expected) {
		t.Fatalf("incorrect number of returns \n\twant(%v)\n\thave(%v)",
			len(expected), len(returns))
	}
	for i := range expected {
		if math.Abs(returns[i]-expected[i]) > 1e-12 {
			t.Errorf("incorrect return for episode %d \n\twant(%v)"+
				"\n\thave(%v)", i, expected[i], returns[i])
		}
	}
}

func TestReturnUnfinishedEpisode(t *testing.T) {
	file := filepath.Join(t.TempDir(), "returns.bin")
	track := NewReturn(file)

	episode(track, []float64{1.0, 1.0})

	// An episode that never terminates is not cached
	obs := mat.NewVecDense(1, []float64{0.0})
	track.Track(ts.New(ts.Mid, 100.0, 1.0, obs, 0))

	if err := track.Save(); err != nil {
		t.Fatalf("save: unexpected error: %v", err)
	}

	returns, err := LoadData(file)
	if err != nil {
		t.Fatalf("loaddata: unexpected error: %v", err)
	}
	if len(returns) != 1 {
		t.Fatalf("incorrect number of returns \n\twant(1)\n\thave(%v)",
			len(returns))
	}
}

func TestReturnNonSequentialPanics(t *testing.T) {
	track := NewReturn(filepath.Join(t.TempDir(), "returns.bin"))

	defer func() {
		if recover() == nil {
			t.Error("expected a panic on non-sequential timesteps")
		}
	}()

	obs := mat.NewVecDense(1, []float64{0.0})
	track.Track(ts.New(ts.Mid, 0.0, 1.0, obs, 0))
	track.Track(ts.New(ts.Mid, 0.0, 1.0, obs, 5))
}

func TestEpisodeLength(t *testing.T) {
	file := filepath.Join(t.TempDir(), "lengths.bin")
	track := NewEpisodeLength(file)

	episode(track, []float64{0.0, 0.0, 0.0, 0.0})
	episode(track, []float64{0.0})

	if err := track.Save(); err != nil {
		t.Fatalf("save: unexpected error: %v", err)
	}

	lengths, err := LoadData(file)
	if err != nil {
		t.Fatalf("loaddata: unexpected error: %v", err)
	}

	expected := []float64{3.0, 0.0}
	if len(lengths) != len(expected) {
		t.Fatalf("incorrect number of lengths \n\twant(%v)\n\thave(%v)",
			len(expected), len(lengths))
	}
	for i := range expected {
		if lengths[i] != expected[i] {
			t.Errorf("incorrect length for episode %d \n\twant(%v)"+
				"\n\thave(%v)", i, expected[i], lengths[i])
		}
	}
}
