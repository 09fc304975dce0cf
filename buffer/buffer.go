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

// Package buffer implements the cursored byte buffer backing every
// connection's read and write side. Bytes are appended at the write cursor
// and consumed at the read cursor; decode and encode callbacks operate on
// the region in between.
package buffer

import "sync"

// DefaultSize is the initial capacity of a connection buffer.
const DefaultSize = 8192

// Buffer is a growable byte buffer with independent read and write cursors.
// It is not safe for concurrent use; a connection's buffers are only ever
// touched by its owning reactor.
type Buffer struct {
	buf        []byte
	readIndex  int
	writeIndex int
}

// New creates a Buffer with the given initial capacity.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{buf: make([]byte, size)}
}

// ReadableBytes returns the number of bytes between the read and write cursors.
func (b *Buffer) ReadableBytes() int {
	return b.writeIndex - b.readIndex
}

// WritableBytes returns the number of bytes that can be written before the
// buffer needs to grow.
func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writeIndex
}

// EnsureWritable guarantees at least n writable bytes, compacting the
// already-consumed prefix first and growing the underlying slice only when
// compaction is not enough.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	readable := b.ReadableBytes()
	if b.readIndex+b.WritableBytes() >= n {
		copy(b.buf, b.buf[b.readIndex:b.writeIndex])
	} else {
		size := len(b.buf) * 2
		for size-readable < n {
			size *= 2
		}
		grown := make([]byte, size)
		copy(grown, b.buf[b.readIndex:b.writeIndex])
		b.buf = grown
	}
	b.readIndex = 0
	b.writeIndex = readable
}

// WritableSlice returns the raw writable region. The caller reports how much
// of it was filled via AdvanceWrite.
func (b *Buffer) WritableSlice() []byte {
	return b.buf[b.writeIndex:]
}

// AdvanceWrite moves the write cursor forward by n bytes.
func (b *Buffer) AdvanceWrite(n int) {
	if n <= 0 {
		return
	}
	b.writeIndex += n
	if b.writeIndex > len(b.buf) {
		b.writeIndex = len(b.buf)
	}
}

// ReadableSlice returns the region between the read and write cursors. The
// caller reports how much of it was consumed via AdvanceRead.
func (b *Buffer) ReadableSlice() []byte {
	return b.buf[b.readIndex:b.writeIndex]
}

// AdvanceRead moves the read cursor forward by n bytes. When the buffer
// drains completely both cursors rewind to the start.
func (b *Buffer) AdvanceRead(n int) {
	if n <= 0 {
		return
	}
	b.readIndex += n
	if b.readIndex >= b.writeIndex {
		b.readIndex = 0
		b.writeIndex = 0
	}
}

// WriteBytes appends p to the buffer, growing it as needed. It implements
// the append side used by encode callbacks.
func (b *Buffer) WriteBytes(p []byte) {
	b.EnsureWritable(len(p))
	copy(b.buf[b.writeIndex:], p)
	b.writeIndex += len(p)
}

// Write implements io.Writer over WriteBytes.
func (b *Buffer) Write(p []byte) (int, error) {
	b.WriteBytes(p)
	return len(p), nil
}

// ReadBytes consumes and returns up to n readable bytes as a copy.
func (b *Buffer) ReadBytes(n int) []byte {
	if readable := b.ReadableBytes(); n > readable {
		n = readable
	}
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.buf[b.readIndex:b.readIndex+n])
	b.AdvanceRead(n)
	return out
}

// Reset drops all content and rewinds both cursors.
func (b *Buffer) Reset() {
	b.readIndex = 0
	b.writeIndex = 0
}

// Cap returns the current capacity of the underlying slice.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

var pool = sync.Pool{
	New: func() any {
		return New(DefaultSize)
	},
}

// Get returns a reset Buffer from the pool.
func Get() *Buffer {
	return pool.Get().(*Buffer)
}

// Put resets the Buffer and returns it to the pool.
func Put(b *Buffer) {
	b.Reset()
	pool.Put(b)
}
