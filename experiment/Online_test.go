package experiment

import (
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/gopolgrad/environment"
	"github.com/samuelfneumann/gopolgrad/environment/classiccontrol/pendulum"
	"github.com/samuelfneumann/gopolgrad/experiment/tracker"
	"github.com/samuelfneumann/gopolgrad/logger"
	ts "github.com/samuelfneumann/gopolgrad/timestep"
)

// fixedAgent always selects the zero action and learns nothing.
type fixedAgent struct {
	eval bool
}

func (f *fixedAgent) SelectAction(t ts.TimeStep) *mat.VecDense {
	return mat.NewVecDense(1, []float64{0.0})
}

func (f *fixedAgent) ObserveFirst(ts.TimeStep) error { return nil }

func (f *fixedAgent) Observe(mat.Vector, ts.TimeStep) error { return nil }

func (f *fixedAgent) Step() error { return nil }

func (f *fixedAgent) EndEpisode() {}

func (f *fixedAgent) Eval() { f.eval = true }

func (f *fixedAgent) Train() { f.eval = false }

func (f *fixedAgent) IsEval() bool { return f.eval }

// countingRecorder counts stores and dumps.
type countingRecorder struct {
	stores int
	dumps  int
}

func (c *countingRecorder) Store(map[string]float64) { c.stores++ }

func (c *countingRecorder) StoreSlice(map[string][]float64) {}

func (c *countingRecorder) LogTabular(string, float64) {}

func (c *countingRecorder) DumpTabular(...logger.Stat) (map[string]float64,
	error) {
	c.dumps++
	return map[string]float64{}, nil
}

func newTestEnv(episodeLength int) environment.Environment {
	s := environment.NewUniformStarter([]r1.Interval{
		{Min: math.Pi - 0.1, Max: math.Pi + 0.1},
		{Min: -0.1, Max: 0.1},
	}, 13)
	task := pendulum.NewSwingUp(s, episodeLength)
	env, _ := pendulum.NewContinuous(task, 0.99)
	return env
}

// TestOnlineRun checks that an online experiment runs for exactly its
// timestep budget, saving the returns of every completed episode.
func TestOnlineRun(t *testing.T) {
	env := newTestEnv(10)
	file := filepath.Join(t.TempDir(), "returns.bin")

	exp := NewOnline(env, &fixedAgent{}, 25, tracker.NewReturn(file))
	ended, err := exp.RunEpisode()
	if err != nil {
		t.Fatalf("runepisode: unexpected error: %v", err)
	}
	if ended {
		t.Fatal("experiment claimed to end after a single episode")
	}

	if err := exp.Run(); err != nil {
		t.Fatalf("run: unexpected error: %v", err)
	}
	if err := exp.Save(); err != nil {
		t.Fatalf("save: unexpected error: %v", err)
	}

	// Two episodes of 10 steps complete within the 25 step budget; the
	// partial third episode is not saved
	returns, err := tracker.LoadData(file)
	if err != nil {
		t.Fatalf("loaddata: unexpected error: %v", err)
	}
	if len(returns) != 2 {
		t.Fatalf("incorrect number of episode returns \n\twant(2)"+
			"\n\thave(%v)", len(returns))
	}

	// The pendulum hangs near the bottom under zero torque, so each
	// episodic return is near -1 per step
	for i, ret := range returns {
		if ret > 0 || ret < -10 {
			t.Errorf("implausible return for episode %d: %v", i, ret)
		}
	}
}

// TestOnlineRecord checks the cadence of diagnostic dumps.
func TestOnlineRecord(t *testing.T) {
	env := newTestEnv(10)
	rec := &countingRecorder{}

	exp := NewOnline(env, &fixedAgent{}, 30)
	exp.RecordWith(rec, 10, logger.WithMinAndMax("EpisodeReturn"))

	if err := exp.Run(); err != nil {
		t.Fatalf("run: unexpected error: %v", err)
	}

	if rec.dumps != 3 {
		t.Errorf("incorrect number of diagnostic dumps \n\twant(3)"+
			"\n\thave(%v)", rec.dumps)
	}

	// One episodic diagnostic store per completed episode
	if rec.stores != 3 {
		t.Errorf("incorrect number of episodic stores \n\twant(3)"+
			"\n\thave(%v)", rec.stores)
	}
}
