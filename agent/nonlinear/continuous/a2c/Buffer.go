// Package a2c implements the advantage actor-critic algorithm with
// generalized advantage estimation (GAE)
package a2c

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/gopolgrad/utils/matutils"
)

// gaeBuffer stores the trajectories of a single epoch, computing the
// GAE advantages and the rewards-to-go of each visited state when an
// episode or epoch ends. Along with each state and action, the buffer
// records the log probability with which the behaviour policy took
// the action, so that the learner can later measure how far an update
// moved the policy away from the one that collected the data.
type gaeBuffer struct {
	obsSize      int
	actionSize   int
	maxSize      int
	currentPos   int
	pathStartIdx int
	lambda       float64
	gamma        float64

	obsBuffer  []float64
	actBuffer  []float64
	advBuffer  []float64
	rewBuffer  []float64
	retBuffer  []float64
	valBuffer  []float64
	logpBuffer []float64
}

func newGAEBuffer(obsDim, actDim, size int, lambda,
	gamma float64) *gaeBuffer {
	return &gaeBuffer{
		obsSize:      obsDim,
		actionSize:   actDim,
		maxSize:      size,
		currentPos:   0,
		pathStartIdx: 0,
		lambda:       lambda,
		gamma:        gamma,
		obsBuffer:    make([]float64, size*obsDim),
		actBuffer:    make([]float64, size*actDim),
		advBuffer:    make([]float64, size),
		rewBuffer:    make([]float64, size),
		retBuffer:    make([]float64, size),
		valBuffer:    make([]float64, size),
		logpBuffer:   make([]float64, size),
	}
}

// store stores a single timestep's state, action, reward, state value
// estimate, and behaviour log probability to the buffer.
func (g *gaeBuffer) store(obs, act []float64, rew, val,
	logp float64) error {
	if g.currentPos >= g.maxSize {
		return fmt.Errorf("store: cannot add new transition, buffer at " +
			"maximum capacity")
	}
	if len(obs) != g.obsSize {
		return fmt.Errorf("store: illegal obs length \n\twant(%v)\n\thave(%v)",
			g.obsSize, len(obs))
	}
	if len(act) != g.actionSize {
		return fmt.Errorf("store: illegal act length \n\twant(%v)\n\thave(%v)",
			g.actionSize, len(act))
	}

	start := g.currentPos * g.obsSize
	copy(g.obsBuffer[start:start+g.obsSize], obs)

	start = g.currentPos * g.actionSize
	copy(g.actBuffer[start:start+g.actionSize], act)

	g.rewBuffer[g.currentPos] = rew
	g.valBuffer[g.currentPos] = val
	g.logpBuffer[g.currentPos] = logp
	g.currentPos++
	return nil
}

// finishPath computes the GAE advantages and rewards-to-go for the
// trajectory recorded since the last path ended. The lastVal argument
// bootstraps the value of the state the trajectory was cut off at, and
// should be 0 if the trajectory ended at a true terminal state.
func (g *gaeBuffer) finishPath(lastVal float64) {
	start := g.pathStartIdx
	stop := g.currentPos
	rews := append(g.rewBuffer[start:stop:stop], lastVal)
	vals := append(g.valBuffer[start:stop:stop], lastVal)

	// GAE-lambda advantage calculation
	stateVals := mat.NewVecDense(len(vals)-1, vals[:len(vals)-1])
	nextStateVals := mat.NewVecDense(len(vals)-1, vals[1:])
	rewards := mat.NewVecDense(len(rews)-1, rews[:len(rews)-1])

	deltas := mat.NewVecDense(stateVals.Len(), nil)
	deltas.AddScaledVec(rewards, g.gamma, nextStateVals)
	deltas.SubVec(deltas, stateVals)

	copy(g.advBuffer[start:stop], discountCumSum(deltas, g.gamma*g.lambda))

	// Rewards-to-go
	rewards = mat.NewVecDense(len(rews), rews)
	rewsToGo := discountCumSum(rewards, g.gamma)
	copy(g.retBuffer[start:stop], rewsToGo[:len(rewsToGo)-1])

	g.pathStartIdx = g.currentPos
}

// discountCumSum computes the discounted cumulative sum of x.
func discountCumSum(x *mat.VecDense, discount float64) []float64 {
	discounts := mat.NewVecDense(x.Len(), nil)
	cumSums := make([]float64, x.Len())
	nextScaledRews := mat.NewVecDense(x.Len(), nil)
	backing := nextScaledRews.RawVector().Data

	for i := 0; i < x.Len(); i++ {
		discounts.ScaleVec(discount, discounts)
		discounts.SetVec(x.Len()-i-1, 1)

		nextScaledRews.MulElemVec(discounts, x)
		cumSums[x.Len()-i-1] = floats.Sum(backing[x.Len()-i-1:])
	}

	return cumSums
}

// get empties the buffer, returning the states, actions, normalized
// advantages, rewards-to-go, and behaviour log probabilities of the
// epoch. The buffer must be full before get is called.
func (g *gaeBuffer) get() ([]float64, []float64, []float64, []float64,
	[]float64, error) {
	if g.currentPos != g.maxSize {
		err := fmt.Errorf("get: buffer must be full before sampling")
		return nil, nil, nil, nil, nil, err
	}

	g.currentPos = 0
	g.pathStartIdx = 0

	// Advantage normalization
	adv := mat.NewVecDense(len(g.advBuffer), g.advBuffer)
	ones := matutils.VecOnes(adv.Len())
	mean := stat.Mean(g.advBuffer, nil)
	std := stat.StdDev(g.advBuffer, nil) + 1e-8
	stdVec := mat.NewVecDense(adv.Len(), nil)
	stdVec.AddScaledVec(stdVec, std, ones)

	adv.AddScaledVec(adv, -mean, ones)
	adv.DivElemVec(adv, stdVec)

	return g.obsBuffer, g.actBuffer, adv.RawVector().Data, g.retBuffer,
		g.logpBuffer, nil
}
