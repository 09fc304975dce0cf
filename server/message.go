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

// Message pairs one decoded request with its response slot and the
// connection both belong to. A live message holds one reference on its
// connection, which lets in-flight work survive a socket that closed
// underneath it.
type Message struct {
	conn     *Connection
	request  any
	response any
}

// newMessage creates a Message bound to conn and takes one reference.
func newMessage(conn *Connection) *Message {
	conn.incrRef()
	return &Message{conn: conn}
}

// Connection returns the connection the message belongs to.
func (m *Message) Connection() *Connection {
	return m.conn
}

// Request returns the decoded request packet.
func (m *Message) Request() any {
	return m.request
}

// SetRequest sets the request packet.
func (m *Message) SetRequest(request any) {
	m.request = request
}

// Response returns the response packet.
func (m *Message) Response() any {
	return m.response
}

// SetResponse sets the response packet to be encoded back to the peer.
func (m *Message) SetResponse(response any) {
	m.response = response
}

// release runs the cleanup callback over the non-nil packet slots and drops
// the message's reference on its connection. Must run on the connection's
// owning reactor.
func (m *Message) release(cleanup CleanupFunc) {
	if cleanup != nil {
		if m.request != nil {
			cleanup(m.request)
		}
		if m.response != nil {
			cleanup(m.response)
		}
	}
	m.request = nil
	m.response = nil
	m.conn.decrRef()
}
