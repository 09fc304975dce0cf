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
	"runtime"

	"github.com/tochemey/reakt/log"
)

// Option configures a Server before it is created.
type Option func(*Server)

// defaultIOThreadCount is the reactor count used when WithIOThreadCount is
// not provided.
func defaultIOThreadCount() int {
	return runtime.NumCPU()
}

// WithIOThreadCount sets the number of reactor threads. The count must be
// at least 1; with a single reactor the leader also services connections.
func WithIOThreadCount(count int) Option {
	return func(s *Server) { s.ioThreadCount = count }
}

// WithWorkerThreadCount sets the worker pool size. Zero (the default)
// disables the pool and Process callbacks run inline on the reactors.
func WithWorkerThreadCount(count int) Option {
	return func(s *Server) { s.workerThreadCount = count }
}

// WithTCPNoDelay applies TCP_NODELAY to every accepted socket.
func WithTCPNoDelay() Option {
	return func(s *Server) { s.tcpNoDelay = true }
}

// WithAffinity pins reactor and worker threads to CPU cores. Pinning is
// best-effort; failures are logged and ignored.
func WithAffinity() Option {
	return func(s *Server) { s.affinityEnabled = true }
}

// WithLogger sets the logger. The default is log.DefaultLogger.
func WithLogger(logger log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}
