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

// Package server implements a leader/follower multi-reactor TCP server for
// framed protocols. Applications supply a Handler per listener - decode,
// encode, process plus lifecycle notifications - and the server provides
// accept steering, epoll demultiplexing, buffering, optional worker-pool
// dispatch and reference-counted connection lifetimes.
//
// Reactor 0 is the leader: it owns every listening socket, accepts clients
// and steers each new connection to a follower reactor chosen by descriptor.
// Once steered, all of a connection's callbacks except Process run on its
// owning reactor, so per-connection state needs no locking. With a worker
// pool enabled, decoded requests are processed off the I/O path and the
// finished messages travel back to the owning reactor over a queue plus
// eventfd wakeup for socket writeback.
package server
