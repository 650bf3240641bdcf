// Package expreplay implements experience replay buffers
package expreplay

import (
	"fmt"
	"math/rand"

	"github.com/samuelfneumann/gopolgrad/timestep"
)

// Config implements a specific configuration of an ExperienceReplayer
type Config struct {
	MinReplayCapacity int
	MaxReplayCapacity int
	BatchSize         int
}

// Create creates and returns the ExperienceReplayer with the specified
// Config.
func (c Config) Create(featureSize, actionSize int,
	seed int64) (ExperienceReplayer, error) {
	return New(c.MinReplayCapacity, c.MaxReplayCapacity, c.BatchSize,
		featureSize, actionSize, seed)
}

// ExperienceReplayer implements an experience replay buffer
type ExperienceReplayer interface {
	// Add adds a transition to the buffer
	Add(t timestep.Transition) error

	// Sample samples a batch of experience from the buffer, returning
	// the batch of states, actions, rewards, next states, and terminal
	// flags as []float64
	Sample() ([]float64, []float64, []float64, []float64, []float64, error)

	// Capacity returns the current number of samples in the buffer
	Capacity() int

	// MaxCapacity returns the maximum allowable samples in the buffer
	MaxCapacity() int

	// MinCapacity returns the number of samples required to be in
	// the buffer before the buffer can be sampled
	MinCapacity() int

	// BatchSize returns the number of samples returned by Sample()
	BatchSize() int
}

// cache implements a concrete ExperienceReplayer. The cache is a ring
// buffer: once full, the oldest transition is overwritten by the next
// insert. Sampling is uniform over the stored transitions.
type cache struct {
	stateCache     []float64
	actionCache    []float64
	rewardCache    []float64
	nextStateCache []float64
	terminalCache  []float64

	// next is the index at which the next transition is stored
	next     int
	capacity int

	rng *rand.Rand

	minCapacity int
	maxCapacity int
	batchSize   int
	featureSize int
	actionSize  int
}

// New creates and returns a new ExperienceReplayer. The featureSize
// and actionSize parameters define the size of the feature and action
// vectors. Sampling from the buffer is not allowed until it holds at
// least minCapacity transitions; once maxCapacity transitions are
// held, the oldest transition is evicted on each insert.
//
// Pixel observations should be flattened before adding to the buffer.
func New(minCapacity, maxCapacity, batchSize, featureSize, actionSize int,
	seed int64) (ExperienceReplayer, error) {
	if minCapacity <= 0 {
		return &cache{}, fmt.Errorf("new: minCapacity must be > 0")
	}
	if maxCapacity < 1 {
		return &cache{}, fmt.Errorf("new: maxCapacity must be >= 1")
	}
	if maxCapacity < batchSize {
		return &cache{}, fmt.Errorf("new: cannot have batch size(%v) > max "+
			"buffer capacity (%v)", batchSize, maxCapacity)
	}

	return &cache{
		stateCache:     make([]float64, maxCapacity*featureSize),
		actionCache:    make([]float64, maxCapacity*actionSize),
		rewardCache:    make([]float64, maxCapacity),
		nextStateCache: make([]float64, maxCapacity*featureSize),
		terminalCache:  make([]float64, maxCapacity),

		rng: rand.New(rand.NewSource(seed)),

		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		batchSize:   batchSize,
		featureSize: featureSize,
		actionSize:  actionSize,
	}, nil
}

// String returns the string representation of the cache
func (c *cache) String() string {
	baseStr := "Capacity: %v \nStates: %v \nActions: %v \nRewards: %v " +
		"\nNext States: %v \nTerminals: %v"
	return fmt.Sprintf(baseStr, c.capacity, c.stateCache, c.actionCache,
		c.rewardCache, c.nextStateCache, c.terminalCache)
}

// BatchSize returns the number of samples sampled using Sample() -
// a.k.a the batch size
func (c *cache) BatchSize() int {
	return c.batchSize
}

// Sample samples and returns a batch of transitions from the replay
// buffer
func (c *cache) Sample() ([]float64, []float64, []float64, []float64,
	[]float64, error) {
	if c.Capacity() == 0 {
		err := &ExpReplayError{
			Op:  "sample",
			Err: errEmptyCache,
		}
		return nil, nil, nil, nil, nil, err
	}
	if c.Capacity() < c.MinCapacity() {
		err := &ExpReplayError{
			Op:  "sample",
			Err: errInsufficientSamples,
		}
		return nil, nil, nil, nil, nil, err
	}

	stateBatch := make([]float64, c.batchSize*c.featureSize)
	nextStateBatch := make([]float64, c.batchSize*c.featureSize)
	actionBatch := make([]float64, c.batchSize*c.actionSize)
	rewardBatch := make([]float64, c.batchSize)
	terminalBatch := make([]float64, c.batchSize)

	for i := 0; i < c.batchSize; i++ {
		index := c.rng.Intn(c.Capacity())

		batchStartInd := i * c.featureSize
		expStartInd := index * c.featureSize
		copy(stateBatch[batchStartInd:batchStartInd+c.featureSize],
			c.stateCache[expStartInd:expStartInd+c.featureSize],
		)
		copy(nextStateBatch[batchStartInd:batchStartInd+c.featureSize],
			c.nextStateCache[expStartInd:expStartInd+c.featureSize],
		)

		batchStartInd = i * c.actionSize
		expStartInd = index * c.actionSize
		copy(actionBatch[batchStartInd:batchStartInd+c.actionSize],
			c.actionCache[expStartInd:expStartInd+c.actionSize],
		)

		rewardBatch[i] = c.rewardCache[index]
		terminalBatch[i] = c.terminalCache[index]
	}

	return stateBatch, actionBatch, rewardBatch, nextStateBatch,
		terminalBatch, nil
}

// Capacity returns the current number of elements in the cache that
// are available for sampling
func (c *cache) Capacity() int {
	return c.capacity
}

// MaxCapacity returns the maximum number of elements that are allowed
// in the cache
func (c *cache) MaxCapacity() int {
	return c.maxCapacity
}

// MinCapacity returns the minimum number of elements required in the
// cache before sampling is allowed
func (c *cache) MinCapacity() int {
	return c.minCapacity
}

// Add adds a transition to the cache, overwriting the oldest stored
// transition when the cache is full
func (c *cache) Add(t timestep.Transition) error {
	if t.State.Len() != c.featureSize || t.NextState.Len() != c.featureSize {
		return fmt.Errorf("add: invalid feature size \n\twant(%v)\n\thave(%v)",
			c.featureSize, t.State.Len())
	}
	if t.Action.Len() != c.actionSize {
		return fmt.Errorf("add: invalid action size \n\twant(%v)\n\thave(%v)",
			c.actionSize, t.Action.Len())
	}

	index := c.next
	c.next = (c.next + 1) % c.maxCapacity
	if c.capacity < c.maxCapacity {
		c.capacity++
	}

	stateInd := index * c.featureSize
	for i := 0; i < c.featureSize; i++ {
		c.stateCache[stateInd+i] = t.State.AtVec(i)
		c.nextStateCache[stateInd+i] = t.NextState.AtVec(i)
	}

	actionInd := index * c.actionSize
	for i := 0; i < c.actionSize; i++ {
		c.actionCache[actionInd+i] = t.Action.AtVec(i)
	}

	c.rewardCache[index] = t.Reward
	if t.Terminal {
		c.terminalCache[index] = 1.0
	} else {
		c.terminalCache[index] = 0.0
	}

	return nil
}
