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

// Package errors defines the sentinel errors shared across the reakt packages.
package errors

import "errors"

var (
	// ErrInvalidIOThreadCount is returned when the server is configured with a
	// reactor count lower than one.
	ErrInvalidIOThreadCount = errors.New("io thread count must be greater than zero")

	// ErrInvalidWorkerThreadCount is returned when the server is configured with
	// a negative worker pool size.
	ErrInvalidWorkerThreadCount = errors.New("worker thread count must not be negative")

	// ErrServerStarted is returned when an operation requires a stopped server
	// but the server has already been started.
	ErrServerStarted = errors.New("server already started")

	// ErrServerNotStarted is returned when an operation requires a running
	// server but Start has not been called.
	ErrServerNotStarted = errors.New("server is not started")

	// ErrNilConnection is returned when a nil connection is handed to an
	// operation that needs a live one.
	ErrNilConnection = errors.New("connection is nil")

	// ErrConnectionClosed is returned when a send is attempted on a connection
	// that has already been closed.
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrConnectionNotReady is returned when a send is attempted before the
	// connection has been adopted by a reactor.
	ErrConnectionNotReady = errors.New("connection is not ready")
)
