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

// Package workerpool runs user process callbacks off the reactor threads.
// The pool has a fixed worker count; submission never blocks the caller.
package workerpool

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/atomic"
)

var (
	// ErrNotStarted is returned when a task is submitted before Start.
	ErrNotStarted = errors.New("worker pool must be started first")
	// ErrStopped is returned when a task is submitted after Stop.
	ErrStopped = errors.New("worker pool is stopped")
	// ErrTooManyTasks is returned when the pending task count exceeds the
	// configured bound.
	ErrTooManyTasks = errors.New("worker pool task queue is full")
)

// Task is a unit of work executed by one pool worker.
type Task func()

// Option configures a Pool.
type Option func(*Pool)

// WithStartHook installs a hook invoked once by every worker goroutine
// before it starts consuming tasks. The worker index is passed in; used for
// CPU pinning.
func WithStartHook(hook func(worker int)) Option {
	return func(p *Pool) { p.startHook = hook }
}

// WithMaxPending bounds the number of queued-but-not-running tasks. Zero
// (the default) means unbounded.
func WithMaxPending(limit int) Option {
	return func(p *Pool) { p.maxPending = limit }
}

// Pool is a fixed-size worker pool. Tasks are buffered in a ring queue and
// handed to whichever worker wakes first, so Submit never parks a reactor.
type Pool struct {
	size       int
	maxPending int
	startHook  func(worker int)

	mu    sync.Mutex
	tasks *queue.Queue

	notify  chan struct{}
	quit    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// New creates a Pool with the given worker count.
func New(size int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size:   size,
		tasks:  queue.New(),
		notify: make(chan struct{}, 1024),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.size
}

// Start spawns the workers. Calling Start twice is a no-op.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.work(i)
	}
}

// Submit enqueues a task. It returns an error when the pool is not running
// or when the pending bound is exceeded; it never blocks.
func (p *Pool) Submit(task Task) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	if p.stopped.Load() {
		return ErrStopped
	}

	p.mu.Lock()
	if p.maxPending > 0 && p.tasks.Length() >= p.maxPending {
		p.mu.Unlock()
		return ErrTooManyTasks
	}
	p.tasks.Add(task)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of tasks waiting for a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Length()
}

// Stop shuts the pool down. Tasks already accepted are executed before the
// workers exit; Stop blocks until they have.
func (p *Pool) Stop() {
	if !p.started.Load() {
		return
	}
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.quit)
	p.wg.Wait()
}

// next pops one pending task, or nil when the queue is empty.
func (p *Pool) next() Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tasks.Length() == 0 {
		return nil
	}
	return p.tasks.Remove().(Task)
}

// work is the main worker body.
func (p *Pool) work(worker int) {
	defer p.wg.Done()
	if p.startHook != nil {
		p.startHook(worker)
	}

	for {
		if task := p.next(); task != nil {
			task()
			continue
		}
		select {
		case <-p.notify:
		case <-p.quit:
			// drain whatever was accepted before the shutdown
			for task := p.next(); task != nil; task = p.next() {
				task()
			}
			return
		}
	}
}
