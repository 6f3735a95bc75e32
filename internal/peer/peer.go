// Package peer runs a stand-in stimulus peer: a TCP server that accepts
// one JSON request per connection and answers with a duration reply. It
// backs the link tests and the CLI peer command used when bench-testing a
// rig without the real stimulus software.
package peer

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// Simulator is configured before Listen and not mutated afterwards.
type Simulator struct {
	// Duration is the value replied to each request.
	Duration float64
	// Bare replies with a naked number instead of {"duration": v}.
	Bare bool
	// Delay waits before replying, to exercise client timeouts.
	Delay time.Duration
	// Silent holds the connection open and never replies.
	Silent bool
	// Raw, when non-empty, is written verbatim as the reply.
	Raw string
	// Verbose logs each decoded request.
	Verbose bool

	ln net.Listener
	wg conc.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	accepted int
	last     map[string]any
}

// Listen binds addr (use port 0 for an ephemeral port) and starts the
// accept loop in the background.
func (s *Simulator) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.conns = make(map[net.Conn]struct{})
	s.wg.Go(s.acceptLoop)
	return nil
}

// Addr reports the bound address, valid after Listen.
func (s *Simulator) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the listener, drops any held connections and waits for the
// handlers to finish. Closing a simulator that never listened is a no-op.
func (s *Simulator) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// Accepted reports how many connections have been accepted so far. A
// well-behaved client opens exactly one per exchange.
func (s *Simulator) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// LastRequest returns the most recently decoded request document.
func (s *Simulator) LastRequest() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Simulator) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Go(func() { s.serve(conn) })
	}
}

func (s *Simulator) serve(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	var req map[string]any
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return
	}
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.Verbose {
		log.Printf("Peer: request from %s: %v", conn.RemoteAddr(), req)
	}

	if s.Silent {
		// Hold the connection without answering until it is torn down.
		io.Copy(io.Discard, conn)
		return
	}
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
	if s.Raw != "" {
		conn.Write([]byte(s.Raw))
		return
	}
	if s.Bare {
		json.NewEncoder(conn).Encode(s.Duration)
		return
	}
	json.NewEncoder(conn).Encode(map[string]float64{"duration": s.Duration})
}
