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

// Package eventloop implements the epoll-backed event loop each reactor
// runs. A Loop demultiplexes readable/writable readiness for registered
// descriptors and eventfd-backed async wakeups signalable from any
// goroutine. Watcher registration and removal must happen on the loop's
// goroutine; Async.Send and Loop.Break are the only cross-goroutine entry
// points.
package eventloop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

const maxEvents = 1024

// Kind selects the readiness condition an IO watcher waits for.
type Kind int

const (
	// Readable fires when the descriptor has data to read or was closed by
	// the peer.
	Readable Kind = iota
	// Writable fires when the kernel socket buffer can take more bytes.
	Writable
)

// IO is a readiness watcher for one descriptor and one Kind. The same fd may
// carry one Readable and one Writable watcher at a time.
type IO struct {
	fd      int
	kind    Kind
	cb      func()
	started bool
}

// NewIO creates a watcher for fd firing cb on the loop goroutine whenever
// the descriptor is ready for the given kind.
func NewIO(fd int, kind Kind, cb func()) *IO {
	return &IO{fd: fd, kind: kind, cb: cb}
}

// Fd returns the descriptor the watcher is bound to.
func (io *IO) Fd() int {
	return io.fd
}

// Started reports whether the watcher is currently armed on a loop.
func (io *IO) Started() bool {
	return io.started
}

// Async is an edge-triggered wakeup backed by an eventfd. Producers push
// work onto their queue first and then call Send; the loop goroutine runs cb
// once per burst of signals.
type Async struct {
	efd     int
	cb      func()
	started bool
}

// NewAsync creates an Async firing cb on the loop goroutine. The eventfd is
// created eagerly so Send is safe as soon as NewAsync returns.
func NewAsync(cb func()) (*Async, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &Async{efd: efd, cb: cb}, nil
}

// Send signals the async from any goroutine. Signals coalesce: multiple
// sends before the loop wakes produce a single callback invocation.
func (a *Async) Send() {
	// the eventfd counter is a host-order uint64
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	for {
		_, err := unix.Write(a.efd, one[:])
		if err != nil && errors.Is(err, unix.EINTR) {
			continue
		}
		return
	}
}

// Close releases the eventfd. The async must be stopped first.
func (a *Async) Close() error {
	return unix.Close(a.efd)
}

// fdWatch is the loop-local registration state for one descriptor.
type fdWatch struct {
	readIO  *IO
	writeIO *IO
}

// Loop is a single-goroutine epoll event loop.
type Loop struct {
	epfd     int
	watches  map[int]*fdWatch
	asyncs   map[int]*Async
	breaking atomic.Bool
}

// New creates a Loop.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Loop{
		epfd:    epfd,
		watches: make(map[int]*fdWatch),
		asyncs:  make(map[int]*Async),
	}, nil
}

// StartIO arms the watcher on this loop. Arming an already-started watcher
// is a no-op.
func (l *Loop) StartIO(io *IO) error {
	if io.started {
		return nil
	}

	watch, ok := l.watches[io.fd]
	if !ok {
		watch = &fdWatch{}
		l.watches[io.fd] = watch
	}

	op := unix.EPOLL_CTL_MOD
	if watch.readIO == nil && watch.writeIO == nil {
		op = unix.EPOLL_CTL_ADD
	}

	switch io.kind {
	case Readable:
		watch.readIO = io
	case Writable:
		watch.writeIO = io
	}

	if err := l.epollCtl(op, io.fd, watch); err != nil {
		return err
	}
	io.started = true
	return nil
}

// StopIO disarms the watcher. Stopping a watcher that is not armed is a
// no-op.
func (l *Loop) StopIO(io *IO) error {
	if !io.started {
		return nil
	}
	io.started = false

	watch, ok := l.watches[io.fd]
	if !ok {
		return nil
	}
	switch io.kind {
	case Readable:
		watch.readIO = nil
	case Writable:
		watch.writeIO = nil
	}

	if watch.readIO == nil && watch.writeIO == nil {
		delete(l.watches, io.fd)
		return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, io.fd, nil)
	}
	return l.epollCtl(unix.EPOLL_CTL_MOD, io.fd, watch)
}

// StartAsync registers the async's eventfd on this loop.
func (l *Loop) StartAsync(a *Async) error {
	if a.started {
		return nil
	}
	event := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(a.efd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, a.efd, event); err != nil {
		return fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	l.asyncs[a.efd] = a
	a.started = true
	return nil
}

// StopAsync removes the async's eventfd from this loop.
func (l *Loop) StopAsync(a *Async) error {
	if !a.started {
		return nil
	}
	a.started = false
	delete(l.asyncs, a.efd)
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, a.efd, nil)
}

// Run polls and dispatches until Break is called. pollTimeout bounds each
// wait so a pending Break is observed promptly even on an idle loop.
func (l *Loop) Run(pollTimeout time.Duration) {
	timeoutMs := int(pollTimeout / time.Millisecond)
	if timeoutMs <= 0 {
		timeoutMs = 10
	}

	events := make([]unix.EpollEvent, maxEvents)
	for !l.breaking.Load() {
		n, err := unix.EpollWait(l.epfd, events, timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			l.dispatch(int(events[i].Fd), events[i].Events)
		}
	}
}

// Break requests loop exit. Safe to call from any goroutine; the loop
// notices at the next poll wakeup.
func (l *Loop) Break() {
	l.breaking.Store(true)
}

// Close releases the epoll descriptor.
func (l *Loop) Close() error {
	return unix.Close(l.epfd)
}

// dispatch routes one readiness event to the watcher callbacks.
func (l *Loop) dispatch(fd int, events uint32) {
	if a, ok := l.asyncs[fd]; ok {
		drainEventfd(fd)
		a.cb()
		return
	}

	watch, ok := l.watches[fd]
	if !ok {
		return
	}

	// Error and hangup conditions are surfaced through the read callback so
	// the read path observes EOF or the pending socket error.
	if events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		if watch.readIO != nil && watch.readIO.started {
			watch.readIO.cb()
		}
	}
	// The read callback may have closed the connection and dropped the watch.
	if watch, ok = l.watches[fd]; !ok {
		return
	}
	if events&unix.EPOLLOUT != 0 {
		if watch.writeIO != nil && watch.writeIO.started {
			watch.writeIO.cb()
		}
	}
}

// epollCtl applies the combined interest mask of the surviving watchers.
func (l *Loop) epollCtl(op int, fd int, watch *fdWatch) error {
	var mask uint32
	if watch.readIO != nil {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if watch.writeIO != nil {
		mask |= unix.EPOLLOUT
	}
	event := &unix.EpollEvent{Events: mask, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, op, fd, event); err != nil {
		return fmt.Errorf("epoll ctl: %w", err)
	}
	return nil
}

// drainEventfd clears the eventfd counter so the level-triggered
// registration goes quiet until the next Send.
func drainEventfd(efd int) {
	var counter [8]byte
	for {
		_, err := unix.Read(efd, counter[:])
		if err != nil {
			return
		}
	}
}
