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

import "github.com/tochemey/reakt/buffer"

// DecodeFunc consumes bytes from the connection's read buffer and attempts
// to produce one complete packet. Three outcomes are possible:
//
//   - (packet, nil): a packet was decoded and the buffer's read cursor has
//     been advanced past its bytes.
//   - (nil, nil): the buffer does not yet hold a complete packet; the bytes
//     are left untouched and decoding resumes on the next arrival.
//   - (nil, err): the framing is malformed; the connection is closed.
type DecodeFunc func(in *buffer.Buffer) (any, error)

// EncodeFunc appends the wire encoding of packet to the connection's write
// buffer. A non-nil error is treated as a transport failure and closes the
// connection.
type EncodeFunc func(out *buffer.Buffer, packet any) error

// ProcessFunc handles one decoded request. Implementations read the request
// via Message.Request and answer via Message.SetResponse. When the server
// runs a worker pool, ProcessFunc executes on a pool worker; otherwise it
// runs inline on the connection's reactor and must not block.
type ProcessFunc func(message *Message)

// CleanupFunc releases a decoded request or encoded response packet. It is
// invoked for every non-nil packet slot when a message is destroyed.
type CleanupFunc func(packet any)

// ConnectFunc is an advisory notification. OnConnect runs on the accepting
// reactor before the connection is steered; OnDisconnect runs on the owning
// reactor exactly once, before the descriptor can be reused.
type ConnectFunc func(conn *Connection)

// Handler is the set of application callbacks attached to one listener.
// Every listener carries its own copy, so different ports can speak
// different protocols. Decode and Process are required for inbound traffic;
// when either is nil, received bytes are dropped and the socket stays open
// for server-initiated sends.
type Handler struct {
	// Decode frames inbound bytes into packets.
	Decode DecodeFunc
	// Encode turns response packets into outbound bytes.
	Encode EncodeFunc
	// Process handles one decoded request.
	Process ProcessFunc
	// PacketCleanup releases request and response packets.
	PacketCleanup CleanupFunc
	// OnConnect is called after a connection is accepted.
	OnConnect ConnectFunc
	// OnDisconnect is called once when a connection is being closed.
	OnDisconnect ConnectFunc
}
