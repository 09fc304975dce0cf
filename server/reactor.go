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
	"fmt"
	"runtime"
	"time"

	"go.uber.org/multierr"

	"github.com/tochemey/reakt/internal/affinity"
	"github.com/tochemey/reakt/internal/eventloop"
	"github.com/tochemey/reakt/internal/queue"
	"github.com/tochemey/reakt/internal/socket"
)

// pollInterval bounds each epoll wait so a pending shutdown is observed
// promptly even on an idle reactor.
const pollInterval = 10 * time.Millisecond

// ioReactor is one event-loop thread. Reactor 0 is the leader: it owns
// every listening socket and distributes accepted connections to the
// followers. Other threads never touch a reactor's loop directly; they push
// onto one of its queues and signal the matching async wakeup.
type ioReactor struct {
	idx    int
	loop   *eventloop.Loop
	server *Server

	connQueue    *queue.MpscQueue[*Connection]
	asyncAddConn *eventloop.Async

	messageQueue       *queue.MpscQueue[*Message]
	asyncReturnMessage *eventloop.Async
}

// newIOReactor builds the reactor's loop, queues and wakeups.
func newIOReactor(idx int, server *Server) (*ioReactor, error) {
	loop, err := eventloop.New()
	if err != nil {
		return nil, fmt.Errorf("reactor %d: %w", idx, err)
	}

	reactor := &ioReactor{
		idx:          idx,
		loop:         loop,
		server:       server,
		connQueue:    queue.NewMpscQueue[*Connection](),
		messageQueue: queue.NewMpscQueue[*Message](),
	}

	if reactor.asyncAddConn, err = eventloop.NewAsync(reactor.onAddConn); err != nil {
		_ = loop.Close()
		return nil, fmt.Errorf("reactor %d: %w", idx, err)
	}
	if reactor.asyncReturnMessage, err = eventloop.NewAsync(reactor.onReturnMessage); err != nil {
		_ = reactor.asyncAddConn.Close()
		_ = loop.Close()
		return nil, fmt.Errorf("reactor %d: %w", idx, err)
	}
	return reactor, nil
}

// isLeader reports whether this reactor owns the listening sockets.
func (r *ioReactor) isLeader() bool {
	return r.idx == 0
}

// onAddConn adopts the connections the leader steered to this reactor.
func (r *ioReactor) onAddConn() {
	for {
		conn, ok := r.connQueue.Pop()
		if !ok {
			return
		}
		r.server.logger.Debugf("reactor %d adopted connection [%s:%d fd=%d]",
			r.idx, conn.RemoteAddr(), conn.RemotePort(), conn.Fd())

		conn.ioThread.Store(r)
		_ = r.loop.StartIO(conn.readIO)
	}
}

// onReturnMessage drains messages coming back from the worker pool or from
// Connection.Send and runs the write path for each.
func (r *ioReactor) onReturnMessage() {
	for {
		message, ok := r.messageQueue.Pop()
		if !ok {
			return
		}
		conn := message.Connection()
		if conn.status.Load() != connClosed {
			conn.writeMessage(message)
			message.release(conn.handler.PacketCleanup)
			conn.maybeTeardown()
			continue
		}
		// the socket closed while this message was in flight
		message.release(conn.handler.PacketCleanup)
		conn.maybeTeardown()
	}
}

// entry is the reactor thread body. It pins the goroutine to an OS thread,
// arms the wakeups, runs the loop until the server breaks it, then closes
// the connections it owns and destroys queued residue.
func (r *ioReactor) entry() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	server := r.server
	logger := server.logger

	if server.affinityEnabled {
		if err := affinity.Pin(r.idx); err != nil {
			logger.Warnf("reactor %d: cpu pinning failed: %v", r.idx, err)
		}
	}

	if err := r.loop.StartAsync(r.asyncAddConn); err != nil {
		return err
	}
	if err := r.loop.StartAsync(r.asyncReturnMessage); err != nil {
		return err
	}

	if r.isLeader() {
		logger.Debug("leader reactor starting all listeners")
		for _, listener := range server.listeners {
			logger.Debugf("leader reactor adds listener %s:%d", listener.addr, listener.port)
			listener.ioThread = r
			if err := r.loop.StartIO(listener.acceptIO); err != nil {
				return err
			}
		}
	} else {
		logger.Debugf("follower reactor %d waiting for connections", r.idx)
	}

	r.loop.Run(pollInterval)

	if r.isLeader() {
		logger.Debug("leader reactor stopping all listeners")
		for _, listener := range server.listeners {
			listener.stop(r.loop)
			listener.ioThread = nil
		}
	}

	// close the connections this reactor owns so OnDisconnect fires and
	// descriptors are returned
	for _, conn := range server.snapshotConnections() {
		if conn.ioThread.Load() == r {
			conn.close()
		}
	}

	_ = r.loop.StopAsync(r.asyncAddConn)
	_ = r.loop.StopAsync(r.asyncReturnMessage)
	r.drain()

	logger.Debugf("reactor %d exited", r.idx)
	return nil
}

// stop asks the reactor loop to exit. Safe from any goroutine.
func (r *ioReactor) stop() {
	r.loop.Break()
}

// drain destroys whatever is still sitting in the reactor queues: steered
// connections that were never adopted and messages that came back after the
// loop exited.
func (r *ioReactor) drain() {
	r.connQueue.Drain(func(conn *Connection) {
		if conn.destroyed.CompareAndSwap(false, true) {
			r.server.removeConnection(conn)
			_ = socket.Close(conn.fd)
			conn.destroy()
		}
	})
	r.messageQueue.Drain(func(message *Message) {
		conn := message.Connection()
		message.release(conn.handler.PacketCleanup)
		conn.maybeTeardown()
	})
}

// destroy releases the reactor's loop and wakeups. Called once the reactor
// goroutine has exited.
func (r *ioReactor) destroy() error {
	r.drain()
	return multierr.Combine(
		r.asyncAddConn.Close(),
		r.asyncReturnMessage.Close(),
		r.loop.Close(),
	)
}
