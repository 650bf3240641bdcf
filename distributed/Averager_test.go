package distributed

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLocal(t *testing.T) {
	Convey("Given a single-worker averager", t, func() {
		avg := NewLocal()

		Convey("Averaging a scalar is the identity", func() {
			So(avg.Average(3.5), ShouldEqual, 3.5)
			So(avg.NumWorkers(), ShouldEqual, 1)
		})

		Convey("Averaging gradients is a no-op", func() {
			So(avg.AverageGradients(nil), ShouldBeNil)
		})
	})
}

func TestAllReduceScalar(t *testing.T) {
	Convey("Given a group of three workers", t, func() {
		group := NewAllReduceGroup(3)
		defer group[0].Close()

		So(group[0].NumWorkers(), ShouldEqual, 3)

		Convey("Each worker receives the mean of all contributions", func() {
			inputs := []float64{1.0, 2.0, 6.0}
			results := make([]float64, len(group))

			var wg sync.WaitGroup
			for i := range group {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i] = group[i].Average(inputs[i])
				}(i)
			}
			wg.Wait()

			for i := range results {
				So(results[i], ShouldEqual, 3.0)
			}
		})
	})
}

func TestAllReduceVector(t *testing.T) {
	Convey("Given a group of two workers", t, func() {
		group := NewAllReduceGroup(2)
		defer group[0].Close()

		Convey("Vectors are averaged element-wise across rounds", func() {
			vecs := [][]float64{{1.0, -2.0, 0.0}, {3.0, 2.0, 1.0}}
			want := []float64{2.0, 0.0, 0.5}

			for round := 0; round < 3; round++ {
				results := make([][]float64, len(group))

				var wg sync.WaitGroup
				for i := range group {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						contribution := make([]float64, len(vecs[i]))
						copy(contribution, vecs[i])
						results[i] = group[i].reduce(contribution)
					}(i)
				}
				wg.Wait()

				for i := range results {
					So(results[i], ShouldResemble, want)
				}
			}
		})
	})
}
