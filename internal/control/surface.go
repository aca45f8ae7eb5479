// SPDX-License-Identifier: MIT
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	applog "paulring/internal/log"
	"paulring/internal/transport"
)

// SurfaceOptions configures a Surface.
type SurfaceOptions struct {
	Addr    string       // Listen address, e.g. ":8080".
	Voices  int          // Widgets beyond this count are rejected.
	Stretch StretchRange // Fader mapping.
	Metrics http.Handler // Served at /metrics when set.
}

// Surface is the network control endpoint. Clients connect a websocket to
// /control, send Messages that become Intents on the queue, and receive the
// level and indicator Events from the outbox.
type Surface struct {
	opts   SurfaceOptions
	queue  *Queue
	outbox *Outbox
	ws     *transport.WebSocketTransport

	server   *http.Server
	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewSurface wires a surface to the intent queue and the outbox. Call Start
// to begin listening.
func NewSurface(opts SurfaceOptions, queue *Queue, outbox *Outbox) *Surface {
	s := &Surface{
		opts:   opts,
		queue:  queue,
		outbox: outbox,
		done:   make(chan struct{}),
	}
	s.ws = transport.NewWebSocketTransport(s.handle)

	mux := http.NewServeMux()
	mux.Handle("/control", s.ws)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start binds the listen address and serves in the background.
func (s *Surface) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		s.ws.Close()
		return fmt.Errorf("control: listen %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	applog.Infof("Control: Surface listening on %s", ln.Addr())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("Control: Server error: %v", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.forward()
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Surface) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Broadcast returns the transport that fans messages out to every control
// client. The spectrum band energies share it with the voice events.
func (s *Surface) Broadcast() transport.Transport { return s.ws }

// Clients returns the number of connected websocket clients.
func (s *Surface) Clients() int { return s.ws.ClientCount() }

// Accepted returns how many inbound messages were queued as intents.
func (s *Surface) Accepted() uint64 { return s.accepted.Load() }

// Rejected returns how many inbound messages were malformed or dropped.
func (s *Surface) Rejected() uint64 { return s.rejected.Load() }

// handle decodes one inbound frame and queues the resulting intent.
func (s *Surface) handle(data []byte) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		s.rejected.Add(1)
		applog.Warnf("Control: Malformed message: %v", err)
		return
	}
	in, err := Decode(m, s.opts.Stretch)
	if err != nil {
		s.rejected.Add(1)
		applog.Warnf("Control: %v", err)
		return
	}
	if s.opts.Voices > 0 && in.Voice >= s.opts.Voices {
		s.rejected.Add(1)
		applog.Warnf("Control: %s names voice %d of %d", m.Address, in.Voice+1, s.opts.Voices)
		return
	}
	if err := s.queue.Push(in); err != nil {
		s.rejected.Add(1)
		applog.Warnf("Control: Dropping %s: %v", in, err)
		return
	}
	s.accepted.Add(1)
	applog.Debugf("Control: Queued %s", in)
}

// forward relays outbox events to the websocket clients until Close.
func (s *Surface) forward() {
	for {
		select {
		case e := <-s.outbox.Events():
			_ = s.ws.Send(e.Message())
		case <-s.done:
			return
		}
	}
}

// Close stops the server and the forwarding goroutine and disconnects
// every client.
func (s *Surface) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.server.Close()
		s.ws.Close()
		s.wg.Wait()
		applog.Infof("Control: Surface closed")
	})
	return err
}
