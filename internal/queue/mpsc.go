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

// Package queue provides the multi-producer single-consumer queues that carry
// connections and messages between reactors.
package queue

import "sync/atomic"

// node is one queue link. The next pointer is atomic because a producer
// publishes it while the consumer may already be chasing the chain.
type node[T any] struct {
	next  atomic.Pointer[node[T]]
	value T
}

// MpscQueue is an intrusive multi-producer single-consumer FIFO after
// Vyukov's non-blocking MPSC design: producers swap themselves in at the
// inlet and link the previous node forward, so Push is wait-free; the
// single consumer walks the chain from a stub node without synchronisation.
// Any goroutine may Push; only the owning reactor goroutine may call Pop,
// IsEmpty or Drain.
type MpscQueue[T any] struct {
	inlet  atomic.Pointer[node[T]]
	outlet *node[T]
	size   atomic.Int64
}

// NewMpscQueue create an instance of MpscQueue
func NewMpscQueue[T any]() *MpscQueue[T] {
	stub := new(node[T])
	q := &MpscQueue[T]{outlet: stub}
	q.inlet.Store(stub)
	return q
}

// Push place the given value in the queue head (FIFO). Returns always true
func (q *MpscQueue[T]) Push(value T) bool {
	fresh := &node[T]{value: value}
	prev := q.inlet.Swap(fresh)
	prev.next.Store(fresh)
	q.size.Add(1)
	return true
}

// Pop takes a value from the queue tail.
// Returns false if the queue is empty. Can be used in a single consumer (goroutine) only.
func (q *MpscQueue[T]) Pop() (T, bool) {
	var zero T
	head := q.outlet.next.Load()
	if head == nil {
		return zero, false
	}
	// the old stub is dropped; head becomes the new stub
	q.outlet = head
	value := head.value
	head.value = zero
	q.size.Add(-1)
	return value, true
}

// Len returns queue length
func (q *MpscQueue[T]) Len() int64 {
	return q.size.Load()
}

// IsEmpty returns true when the queue is empty
// must be called from a single, consumer goroutine
func (q *MpscQueue[T]) IsEmpty() bool {
	return q.outlet.next.Load() == nil
}

// Drain pops every remaining element and hands it to fn. It is used at
// reactor teardown so queued connections and messages are released rather
// than leaked. Single consumer only.
func (q *MpscQueue[T]) Drain(fn func(T)) {
	for {
		value, ok := q.Pop()
		if !ok {
			return
		}
		fn(value)
	}
}
