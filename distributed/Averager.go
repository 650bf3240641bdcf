// Package distributed implements gradient and diagnostic averaging
// across data-parallel workers. Each worker interacts with its
// environment and computes gradients independently; before any solver
// step, the workers' gradients are averaged so that every worker takes
// the same step.
package distributed

import (
	"fmt"
	"sync"

	channerics "github.com/niceyeti/channerics/channels"
	G "gorgonia.org/gorgonia"
)

// GradAverager averages gradients and scalar diagnostics across a
// group of workers. Calls block until every worker in the group has
// contributed, so all workers must call the same methods in the same
// order.
type GradAverager interface {
	// AverageGradients replaces the gradient of each model node with
	// the average gradient across all workers
	AverageGradients([]G.ValueGrad) error

	// Average returns the average of a scalar across all workers
	Average(float64) float64

	// NumWorkers returns the number of workers in the group
	NumWorkers() int

	// Close releases the group's resources. Closing any one worker's
	// handle closes the group.
	Close()
}

// Local is a GradAverager for a single worker. Averaging is the
// identity.
type Local struct{}

// NewLocal returns a GradAverager for a single worker
func NewLocal() Local {
	return Local{}
}

// AverageGradients implements the GradAverager interface
func (l Local) AverageGradients([]G.ValueGrad) error {
	return nil
}

// Average implements the GradAverager interface
func (l Local) Average(x float64) float64 {
	return x
}

// NumWorkers implements the GradAverager interface
func (l Local) NumWorkers() int {
	return 1
}

// Close implements the GradAverager interface
func (l Local) Close() {}

// AllReduce is one worker's handle into a group of workers which
// average their gradients element-wise. A coordinating goroutine
// collects one contribution from every worker, averages them, and
// broadcasts the result back to all workers.
type AllReduce struct {
	in        chan<- []float64
	out       <-chan []float64
	n         int
	closeOnce *sync.Once
	done      chan struct{}
}

// NewAllReduceGroup returns a group of n connected AllReduce handles,
// one per worker.
func NewAllReduceGroup(n int) []*AllReduce {
	if n <= 0 {
		panic(fmt.Sprintf("newallreducegroup: workers must be positive "+
			"\n\twant(> 0) \n\thave(%v)", n))
	}

	done := make(chan struct{})
	in := make(chan []float64)
	results := make(chan []float64)
	outs := channerics.Broadcast(done, results, n)

	// Collect one contribution per worker each round, then broadcast
	// the element-wise average to every worker
	go func() {
		for {
			var sum []float64
			for i := 0; i < n; i++ {
				select {
				case <-done:
					return
				case vec := <-in:
					if sum == nil {
						sum = make([]float64, len(vec))
					}
					for j := range vec {
						sum[j] += vec[j]
					}
				}
			}

			for j := range sum {
				sum[j] /= float64(n)
			}

			select {
			case <-done:
				return
			case results <- sum:
			}
		}
	}()

	closeOnce := &sync.Once{}
	group := make([]*AllReduce, n)
	for i := range group {
		group[i] = &AllReduce{
			in:        in,
			out:       outs[i],
			n:         n,
			closeOnce: closeOnce,
			done:      done,
		}
	}
	return group
}

// reduce submits this worker's vector for averaging and returns the
// element-wise average across all workers in the group.
func (a *AllReduce) reduce(vec []float64) []float64 {
	a.in <- vec
	return <-a.out
}

// AverageGradients replaces the gradient of each model node with the
// average gradient across all workers. All workers must hold models
// with identical architectures.
func (a *AllReduce) AverageGradients(model []G.ValueGrad) error {
	// Flatten all gradients into a single vector so that a round of
	// averaging covers the whole model
	var flat []float64
	for i, node := range model {
		grad, err := node.Grad()
		if err != nil {
			return fmt.Errorf("averagegradients: could not get gradient of "+
				"node %v: %v", i, err)
		}
		flat = append(flat, grad.Data().([]float64)...)
	}

	averaged := a.reduce(flat)

	at := 0
	for _, node := range model {
		grad, err := node.Grad()
		if err != nil {
			return err
		}
		data := grad.Data().([]float64)
		copy(data, averaged[at:at+len(data)])
		at += len(data)
	}
	return nil
}

// Average returns the average of a scalar across all workers
func (a *AllReduce) Average(x float64) float64 {
	return a.reduce([]float64{x})[0]
}

// NumWorkers returns the number of workers in the group
func (a *AllReduce) NumWorkers() int {
	return a.n
}

// Close releases the group's resources. Closing any one worker's
// handle closes the group.
func (a *AllReduce) Close() {
	a.closeOnce.Do(func() { close(a.done) })
}
