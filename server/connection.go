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

	"github.com/tochemey/reakt/buffer"
	gerrors "github.com/tochemey/reakt/errors"
	"github.com/tochemey/reakt/internal/eventloop"
	"github.com/tochemey/reakt/internal/socket"
)

const (
	connOpen int32 = iota + 1
	connClosed
)

// readReserve is how many writable bytes the read buffer guarantees before
// each read syscall.
const readReserve = 4096

// Connection is one accepted TCP connection. Its buffers, watchers and
// callbacks are only ever touched by the reactor that adopted it; the
// reference count, the status word and the owning-reactor pointer are the
// fields shared across threads.
type Connection struct {
	addr string
	port int
	fd   int

	readIO  *eventloop.IO
	writeIO *eventloop.IO

	readBuffer  *buffer.Buffer
	writeBuffer *buffer.Buffer

	handler  *Handler
	ioThread atomic.Pointer[ioReactor]

	status    atomic.Int32
	refCount  atomic.Int32
	destroyed atomic.Bool
}

// newConnection wires up a Connection for an accepted descriptor. The
// connection is not armed on any loop yet; steering decides which reactor
// adopts it.
func newConnection(addr string, port, fd int, handler *Handler) *Connection {
	conn := &Connection{
		addr:        addr,
		port:        port,
		fd:          fd,
		handler:     handler,
		readBuffer:  buffer.Get(),
		writeBuffer: buffer.Get(),
	}
	conn.readIO = eventloop.NewIO(fd, eventloop.Readable, conn.onReadable)
	conn.writeIO = eventloop.NewIO(fd, eventloop.Writable, conn.onWritable)
	conn.status.Store(connOpen)
	conn.refCount.Store(1)
	return conn
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.addr
}

// RemotePort returns the peer port.
func (c *Connection) RemotePort() int {
	return c.port
}

// Fd returns the connection's descriptor.
func (c *Connection) Fd() int {
	return c.fd
}

// IsOpen reports whether the connection has not been closed yet.
func (c *Connection) IsOpen() bool {
	return c.status.Load() == connOpen
}

// Send delivers a server-initiated packet to the peer. The packet is
// encoded and written on the connection's owning reactor. It fails fast
// when the connection is nil, closed, or not yet adopted by a reactor.
func (c *Connection) Send(packet any) error {
	if c == nil {
		return gerrors.ErrNilConnection
	}
	if c.status.Load() == connClosed {
		return gerrors.ErrConnectionClosed
	}
	reactor := c.ioThread.Load()
	if reactor == nil {
		return gerrors.ErrConnectionNotReady
	}

	message := newMessage(c)
	message.SetResponse(packet)
	reactor.messageQueue.Push(message)
	reactor.asyncReturnMessage.Send()
	return nil
}

func (c *Connection) incrRef() {
	c.refCount.Inc()
}

func (c *Connection) decrRef() {
	c.refCount.Dec()
}

// onReadable is the read-event callback. It runs on the owning reactor.
func (c *Connection) onReadable() {
	if c.status.Load() == connClosed {
		return
	}

	c.readBuffer.EnsureWritable(readReserve)
	n, err := socket.Read(c.fd, c.readBuffer.WritableSlice()[:readReserve])
	if n <= 0 {
		if err != nil && socket.Again(err) {
			return
		}
		// orderly close or fatal read error
		c.close()
		return
	}
	c.readBuffer.AdvanceWrite(n)
	c.processReadBuffer()
}

// processReadBuffer drains every complete packet currently sitting in the
// read buffer, dispatching each one.
func (c *Connection) processReadBuffer() {
	handler := c.handler
	if handler.Decode == nil || handler.Process == nil {
		// the protocol is unusable on this listener; drop the bytes
		c.readBuffer.Reset()
		return
	}

	for c.status.Load() == connOpen {
		packet, err := handler.Decode(c.readBuffer)
		if err != nil {
			reactor := c.ioThread.Load()
			reactor.server.logger.Warnf("decode failed on connection [%s:%d fd=%d]: %v", c.addr, c.port, c.fd, err)
			c.close()
			return
		}
		if packet == nil {
			// incomplete frame, wait for more bytes
			return
		}

		message := newMessage(c)
		message.SetRequest(packet)
		c.dispatch(message)
	}
}

// dispatch hands one decoded message to the worker pool, or processes it
// inline on the reactor when no pool is configured.
func (c *Connection) dispatch(message *Message) {
	handler := c.handler
	workers := c.ioThread.Load().server.workers
	if workers == nil {
		handler.Process(message)
		c.writeMessage(message)
		message.release(handler.PacketCleanup)
		c.maybeTeardown()
		return
	}

	task := func() {
		handler.Process(message)
		reactor := message.Connection().ioThread.Load()
		reactor.messageQueue.Push(message)
		reactor.asyncReturnMessage.Send()
	}
	if err := workers.Submit(task); err != nil {
		// pool saturated or shutting down: degrade to inline processing
		handler.Process(message)
		c.writeMessage(message)
		message.release(handler.PacketCleanup)
		c.maybeTeardown()
	}
}

// writeMessage encodes the message's response into the write buffer and
// attempts one non-blocking write. A partial write arms the write watcher.
// Runs on the owning reactor.
func (c *Connection) writeMessage(message *Message) {
	handler := c.handler
	response := message.Response()
	if response == nil || handler.Encode == nil {
		return
	}

	reactor := c.ioThread.Load()
	if err := handler.Encode(c.writeBuffer, response); err != nil {
		reactor.server.logger.Warnf("encode failed on connection [%s:%d fd=%d]: %v", c.addr, c.port, c.fd, err)
		c.close()
		return
	}

	size := c.writeBuffer.ReadableBytes()
	if size == 0 {
		return
	}

	n, err := socket.Write(c.fd, c.writeBuffer.ReadableSlice())
	if n == 0 || (err != nil && !socket.Again(err)) {
		c.close()
		return
	}
	if n > 0 {
		c.writeBuffer.AdvanceRead(n)
	}
	if n != size && c.status.Load() == connOpen {
		// kernel socket buffer is full, wait for writability
		_ = reactor.loop.StartIO(c.writeIO)
	}
}

// onWritable is the write-event callback: it drains the write buffer and
// disarms itself once nothing is left.
func (c *Connection) onWritable() {
	reactor := c.ioThread.Load()
	size := c.writeBuffer.ReadableBytes()
	if size == 0 {
		_ = reactor.loop.StopIO(c.writeIO)
		return
	}

	n, err := socket.Write(c.fd, c.writeBuffer.ReadableSlice())
	if n == 0 || (err != nil && !socket.Again(err)) {
		c.close()
		return
	}
	if n > 0 {
		c.writeBuffer.AdvanceRead(n)
	}
	if n == size {
		_ = reactor.loop.StopIO(c.writeIO)
	}
}

// close runs the connection close protocol on the owning reactor: flip the
// status once, notify the application, stop both watchers, then tear down
// unless messages are still in flight.
func (c *Connection) close() {
	if c.status.CompareAndSwap(connOpen, connClosed) {
		if c.handler.OnDisconnect != nil {
			c.handler.OnDisconnect(c)
		}
		c.stopWatchers()
	}
	c.maybeTeardown()
}

// stopWatchers disarms both event watchers on the owning loop.
func (c *Connection) stopWatchers() {
	if reactor := c.ioThread.Load(); reactor != nil {
		_ = reactor.loop.StopIO(c.readIO)
		_ = reactor.loop.StopIO(c.writeIO)
	}
}

// maybeTeardown finishes the close protocol once the connection is closed
// and no message holds a reference anymore. The descriptor is closed here,
// strictly after the watchers were stopped, and exactly once.
func (c *Connection) maybeTeardown() {
	if c.status.Load() != connClosed || c.refCount.Load() > 1 {
		return
	}
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}
	if reactor := c.ioThread.Load(); reactor != nil {
		reactor.server.removeConnection(c)
	}
	_ = socket.Close(c.fd)
	c.refCount.Dec()
	c.destroy()
}

// destroy releases the connection's buffers. The connection must not be
// used afterwards.
func (c *Connection) destroy() {
	buffer.Put(c.readBuffer)
	buffer.Put(c.writeBuffer)
}
