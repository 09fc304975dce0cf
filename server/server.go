// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

//go:build linux

package server

import (
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/tochemey/reakt/internal/affinity"
	"github.com/tochemey/reakt/internal/socket"
	"github.com/tochemey/reakt/internal/workerpool"
	"github.com/tochemey/reakt/log"

	gerrors "github.com/tochemey/reakt/errors"
)

// initialIndexSize seeds the fd-indexed connection table.
const initialIndexSize = 1024

// Server is a multi-reactor TCP server. One leader reactor accepts every
// connection and steers it to a follower; an optional worker pool runs the
// user's Process callbacks off the I/O path.
//
// Create a Server with NewServer, register listeners with AddListener, then
// call Start followed by Run. Stop breaks the reactors; Destroy releases
// everything.
type Server struct {
	ioThreadCount     int
	workerThreadCount int
	tcpNoDelay        bool
	affinityEnabled   bool
	logger            log.Logger

	reactors  []*ioReactor
	workers   *workerpool.Pool
	listeners []*Listener

	connMu      sync.Mutex
	connections []*Connection
	connCount   atomic.Int64

	started  atomic.Bool
	launched atomic.Bool
	group    errgroup.Group
}

// NewServer creates a Server with the given options. The reactors and the
// worker pool are allocated eagerly; nothing runs until Start.
func NewServer(opts ...Option) (*Server, error) {
	server := &Server{
		ioThreadCount:     defaultIOThreadCount(),
		workerThreadCount: 0,
		logger:            log.DefaultLogger,
		connections:       make([]*Connection, initialIndexSize),
	}
	for _, opt := range opts {
		opt(server)
	}

	if server.ioThreadCount <= 0 {
		return nil, gerrors.ErrInvalidIOThreadCount
	}
	if server.workerThreadCount < 0 {
		return nil, gerrors.ErrInvalidWorkerThreadCount
	}

	server.reactors = make([]*ioReactor, server.ioThreadCount)
	for i := range server.reactors {
		reactor, err := newIOReactor(i, server)
		if err != nil {
			for _, built := range server.reactors[:i] {
				_ = built.destroy()
			}
			return nil, err
		}
		server.reactors[i] = reactor
	}

	if server.workerThreadCount > 0 {
		poolOpts := []workerpool.Option{}
		if server.affinityEnabled {
			poolOpts = append(poolOpts, workerpool.WithStartHook(func(worker int) {
				if err := affinity.Pin(server.ioThreadCount + worker); err != nil {
					server.logger.Warnf("worker %d: cpu pinning failed: %v", worker, err)
				}
			}))
		}
		server.workers = workerpool.New(server.workerThreadCount, poolOpts...)
	}
	return server, nil
}

// AddListener binds a listening socket on addr:port and attaches a copy of
// handler to it. All listeners must be registered before Start; they are
// all adopted by the leader reactor.
func (s *Server) AddListener(addr string, port int, handler Handler) error {
	if s.started.Load() {
		return gerrors.ErrServerStarted
	}

	listener, err := newListener(s, addr, port, handler)
	if err != nil {
		s.logger.Errorf("listen on %s:%d failed: %v", addr, port, err)
		return err
	}

	// newest listener first, matching the order they are stopped in
	s.listeners = append([]*Listener{listener}, s.listeners...)
	s.logger.Infof("server listening on %s:%d", addr, port)
	return nil
}

// Start launches the worker pool and one goroutine per reactor. It fails
// when the server is already running.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Error("server already started")
		return gerrors.ErrServerStarted
	}
	s.launched.Store(true)
	s.logger.Infof("server starting with %d reactor(s) and %d worker(s)", s.ioThreadCount, s.workerThreadCount)

	if s.workers != nil {
		s.workers.Start()
	}
	for _, reactor := range s.reactors {
		reactor := reactor
		s.group.Go(reactor.entry)
	}
	return nil
}

// Run blocks until every reactor has exited, returning the first reactor
// error if any. It fails when the server was never started.
func (s *Server) Run() error {
	if !s.launched.Load() {
		s.logger.Error("server is not started")
		return gerrors.ErrServerNotStarted
	}
	return s.group.Wait()
}

// Stop shuts the server down: the reactors break out of their loops, close
// the connections they own, and the worker pool drains. Stopping a server
// that never started is reported but harmless.
func (s *Server) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		s.logger.Error("server is not started")
		return gerrors.ErrServerNotStarted
	}
	s.logger.Info("server stopping")

	for _, reactor := range s.reactors {
		reactor.stop()
	}
	// reactors notice the break within one poll interval; wait for them so
	// connections are closed on their owning threads
	_ = s.group.Wait()

	if s.workers != nil {
		s.workers.Stop()
	}
	s.logger.Info("server stopped")
	return nil
}

// Destroy stops the server if needed and releases listeners, remaining
// connections, reactors and the worker pool. Connections still referenced
// by in-flight messages are destroyed unconditionally: this is leak
// prevention, not a graceful drain.
func (s *Server) Destroy() {
	_ = s.Stop()

	for _, listener := range s.listeners {
		listener.destroy()
	}
	s.listeners = nil

	s.connMu.Lock()
	remaining := make([]*Connection, 0)
	for i, conn := range s.connections {
		if conn != nil {
			remaining = append(remaining, conn)
			s.connections[i] = nil
		}
	}
	s.connMu.Unlock()

	for _, conn := range remaining {
		if conn.destroyed.CompareAndSwap(false, true) {
			_ = socket.Close(conn.fd)
			conn.destroy()
			s.connCount.Dec()
		}
	}

	for _, reactor := range s.reactors {
		if err := reactor.destroy(); err != nil {
			s.logger.Warnf("reactor %d teardown: %v", reactor.idx, err)
		}
	}
	s.reactors = nil
	s.workers = nil
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int64 {
	return s.connCount.Load()
}

// steer hands a freshly accepted connection to its reactor. With a single
// reactor the leader adopts the connection itself; otherwise the leader is
// excluded and the follower is picked by descriptor. Runs on the leader.
func (s *Server) steer(conn *Connection, leader *ioReactor) {
	if s.ioThreadCount == 1 {
		conn.ioThread.Store(leader)
		_ = leader.loop.StartIO(conn.readIO)
		return
	}

	// the leader already runs accept and OnConnect work, keep it out of
	// the rotation
	idx := conn.fd%(s.ioThreadCount-1) + 1
	follower := s.reactors[idx]
	follower.connQueue.Push(conn)
	follower.asyncAddConn.Send()
}

// addConnection indexes a connection by descriptor, growing the dense table
// by doubling. Runs on the leader.
func (s *Server) addConnection(conn *Connection) {
	s.connMu.Lock()
	for conn.fd >= len(s.connections) {
		s.logger.Debugf("connection index resized from %d to %d", len(s.connections), len(s.connections)*2)
		s.connections = append(s.connections, make([]*Connection, len(s.connections))...)
	}
	s.connections[conn.fd] = conn
	s.connMu.Unlock()

	s.logger.Debugf("added connection [%s:%d fd=%d]", conn.RemoteAddr(), conn.RemotePort(), conn.Fd())
	s.connCount.Inc()
}

// removeConnection clears the connection's index slot.
func (s *Server) removeConnection(conn *Connection) {
	s.connMu.Lock()
	if conn.fd >= 0 && conn.fd < len(s.connections) && s.connections[conn.fd] == conn {
		s.connections[conn.fd] = nil
		s.connMu.Unlock()
		s.logger.Debugf("removed connection [%s:%d fd=%d]", conn.RemoteAddr(), conn.RemotePort(), conn.Fd())
		s.connCount.Dec()
		return
	}
	s.connMu.Unlock()
}

// snapshotConnections returns the currently indexed connections.
func (s *Server) snapshotConnections() []*Connection {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	out := make([]*Connection, 0, s.connCount.Load())
	for _, conn := range s.connections {
		if conn != nil {
			out = append(out, conn)
		}
	}
	return out
}
