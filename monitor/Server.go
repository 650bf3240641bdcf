// Package monitor implements a websocket server for watching training
// progress in a browser
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second

	// Send pings to the peer with this period.
	pingPeriod = 200 * time.Millisecond

	// Number of pings to tolerate losing before concluding the peer
	// is gone.
	pongWait = 4 * pingPeriod
)

var upgrader = websocket.Upgrader{}

// ErrPongDeadlineExceeded is returned when a connected peer stops
// answering pings.
var ErrPongDeadlineExceeded error = errors.New("client disconnect, " +
	"pong deadline exceeded")

// Server pushes training metrics to connected browsers over
// websockets. Each map published to the server is broadcast as a JSON
// object to every connected client at the /metrics endpoint.
//
// The server supports a fixed number of concurrent clients. Metric
// updates are idempotent: a client that reads slowly only ever sees
// the latest update, intervening updates are discarded.
type Server struct {
	addr string
	done <-chan struct{}

	source chan map[string]float64

	// Pool of broadcast subscriptions, one claimed per connected
	// client and returned on disconnect
	slots chan (<-chan map[string]float64)
}

// NewServer returns a Server listening on addr that serves at most
// maxClients concurrent websocket clients. The server shuts down when
// done is closed.
func NewServer(addr string, maxClients int, done <-chan struct{}) *Server {
	source := make(chan map[string]float64)
	subs := channerics.Broadcast(done, source, maxClients)

	slots := make(chan (<-chan map[string]float64), maxClients)
	for _, sub := range subs {
		slots <- latest(done, sub)
	}

	return &Server{
		addr:   addr,
		done:   done,
		source: source,
		slots:  slots,
	}
}

// latest forwards values from in to the returned channel, keeping
// only the most recent value when the reader falls behind. This keeps
// the broadcaster from ever blocking on a slow or absent client.
func latest(done <-chan struct{},
	in <-chan map[string]float64) <-chan map[string]float64 {
	out := make(chan map[string]float64, 1)

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case val, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- val:
				default:
					// Discard the stale update
					select {
					case <-out:
					default:
					}
					out <- val
				}
			}
		}
	}()

	return out
}

// Publish broadcasts a map of metrics to all connected clients.
func (s *Server) Publish(metrics map[string]float64) {
	vals := make(map[string]float64, len(metrics))
	for key, val := range metrics {
		vals[key] = val
	}

	select {
	case s.source <- vals:
	case <-s.done:
	}
}

// ListenAndServe serves the websocket endpoint at /metrics until the
// server's done channel is closed.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.serveMetrics)

	server := &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		<-s.done
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		server.Shutdown(ctx)
	}()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// serveMetrics upgrades the request to a websocket and pushes metric
// updates to the peer until it disconnects or the server shuts down.
func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	var updates <-chan map[string]float64
	select {
	case updates = <-s.slots:
	default:
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	defer func() { s.slots <- updates }()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer ws.Close()

	group, ctx := errgroup.WithContext(r.Context())
	group.Go(func() error {
		return s.pingPong(ctx, ws)
	})
	group.Go(func() error {
		return readMessages(ws)
	})
	group.Go(func() error {
		return s.publish(ctx, ws, updates)
	})

	group.Wait()
}

// publish writes each metric update to the peer as JSON.
func (s *Server) publish(ctx context.Context, ws *websocket.Conn,
	updates <-chan map[string]float64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case metrics, ok := <-updates:
			if !ok {
				return nil
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(metrics); err != nil {
				return fmt.Errorf("publish: could not write update: %v", err)
			}
		}
	}
}

// pingPong runs the liveness check of a connected peer. This requires
// that readMessages is running so that the pong handler is called.
func (s *Server) pingPong(ctx context.Context, ws *websocket.Conn) error {
	pong := make(chan struct{}, 1)
	ws.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	pinger := channerics.NewTicker(ctx.Done(), pingPeriod)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-pinger:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}
			err := ws.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(writeWait))
			if err != nil {
				return fmt.Errorf("pingpong: could not ping: %v", err)
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

// readMessages services control frames from the peer. Errors returned
// by websocket reads are permanent, so any error triggers teardown.
func readMessages(ws *websocket.Conn) error {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return err
		}
	}
}
