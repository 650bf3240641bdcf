package monitor

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLatest(t *testing.T) {
	Convey("Given a latest-value forwarder", t, func() {
		done := make(chan struct{})
		defer close(done)

		in := make(chan map[string]float64)
		out := latest(done, in)

		Convey("A reader keeping up receives every value in order", func() {
			for i := 1.0; i <= 3.0; i++ {
				in <- map[string]float64{"Epoch": i}
				val := <-out
				So(val["Epoch"], ShouldEqual, i)
			}
		})

		Convey("A slow reader sees only the most recent value", func() {
			for i := 1.0; i <= 3.0; i++ {
				in <- map[string]float64{"Epoch": i}
			}

			var last map[string]float64
			timeout := time.After(time.Second)
		drain:
			for {
				select {
				case val := <-out:
					last = val
				case <-timeout:
					break drain
				default:
					if last != nil && last["Epoch"] == 3.0 {
						break drain
					}
					time.Sleep(time.Millisecond)
				}
			}

			So(last, ShouldNotBeNil)
			So(last["Epoch"], ShouldEqual, 3.0)
		})
	})
}

func TestServerPublish(t *testing.T) {
	Convey("Given a server with two client slots", t, func() {
		done := make(chan struct{})
		defer close(done)

		server := NewServer("localhost:0", 2, done)

		first := <-server.slots
		second := <-server.slots

		Convey("Published metrics reach every subscription", func() {
			metrics := map[string]float64{"AverageReturn": -1.5, "Epoch": 1}
			go server.Publish(metrics)

			So(<-first, ShouldResemble, metrics)
			So(<-second, ShouldResemble, metrics)
		})

		Convey("Publishing copies the metrics map", func() {
			metrics := map[string]float64{"AverageReturn": -1.5}
			go server.Publish(metrics)

			val := <-first
			<-second
			metrics["AverageReturn"] = 100.0
			So(val["AverageReturn"], ShouldEqual, -1.5)
		})

		Convey("No slots remain for a third client", func() {
			select {
			case <-server.slots:
				So(false, ShouldBeTrue)
			default:
			}
		})
	})
}
