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
	"go.uber.org/atomic"

	"github.com/tochemey/reakt/internal/eventloop"
	"github.com/tochemey/reakt/internal/socket"
)

const listenBacklog = 1024

// Listener is one bound listening socket. Every listener carries its own
// copy of the application Handler, and every listener is adopted by the
// leader reactor, which runs all accept work.
type Listener struct {
	addr     string
	port     int
	listenFd int
	acceptIO *eventloop.IO
	handler  Handler
	server   *Server
	ioThread *ioReactor
	closed   atomic.Bool
}

// newListener opens a non-blocking listening socket and wraps it.
func newListener(server *Server, addr string, port int, handler Handler) (*Listener, error) {
	fd, err := socket.Listen(addr, port, listenBacklog)
	if err != nil {
		return nil, err
	}
	if err := socket.SetNonblock(fd); err != nil {
		_ = socket.Close(fd)
		return nil, err
	}

	listener := &Listener{
		addr:     addr,
		port:     port,
		listenFd: fd,
		handler:  handler,
		server:   server,
	}
	listener.acceptIO = eventloop.NewIO(fd, eventloop.Readable, listener.onAcceptable)
	return listener, nil
}

// onAcceptable runs on the leader reactor whenever the accept queue has
// pending connections. It accepts until the queue drains, steering each new
// connection to its reactor.
func (l *Listener) onAcceptable() {
	server := l.server
	logger := server.logger

	for {
		clientFd, addr, port, err := socket.Accept(l.listenFd)
		if err != nil {
			if !socket.Again(err) {
				logger.Errorf("accept on %s:%d failed: %v", l.addr, l.port, err)
			}
			return
		}
		logger.Debugf("accepted new connection %s:%d", addr, port)

		if err := socket.SetNonblock(clientFd); err != nil {
			_ = socket.Close(clientFd)
			continue
		}
		if server.tcpNoDelay {
			if err := socket.SetNoDelay(clientFd); err != nil {
				_ = socket.Close(clientFd)
				continue
			}
		}

		conn := newConnection(addr, port, clientFd, &l.handler)
		server.addConnection(conn)

		if l.handler.OnConnect != nil {
			l.handler.OnConnect(conn)
		}

		server.steer(conn, l.ioThread)
	}
}

// stop disarms the accept watcher on the leader loop and closes the
// listening socket. Runs on the leader reactor.
func (l *Listener) stop(loop *eventloop.Loop) {
	_ = loop.StopIO(l.acceptIO)
	if l.closed.CompareAndSwap(false, true) {
		_ = socket.Close(l.listenFd)
	}
}

// destroy closes the listening socket when stop never ran.
func (l *Listener) destroy() {
	if l.closed.CompareAndSwap(false, true) {
		_ = socket.Close(l.listenFd)
	}
}
