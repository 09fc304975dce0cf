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
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"
	"go.uber.org/atomic"

	"github.com/tochemey/reakt/buffer"
	gerrors "github.com/tochemey/reakt/errors"
	"github.com/tochemey/reakt/log"
)

const maxFrameSize = 64 << 20

// frame is the length-prefixed packet the tests speak.
type frame struct {
	payload []byte
}

// decodeFrame reads one 4-byte big-endian length-prefixed frame.
func decodeFrame(in *buffer.Buffer) (any, error) {
	data := in.ReadableSlice()
	if len(data) < 4 {
		return nil, nil
	}
	size := binary.BigEndian.Uint32(data)
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds limit", size)
	}
	if len(data) < int(4+size) {
		return nil, nil
	}
	payload := make([]byte, size)
	copy(payload, data[4:4+size])
	in.AdvanceRead(int(4 + size))
	return &frame{payload: payload}, nil
}

// encodeFrame appends the frame's length prefix and payload.
func encodeFrame(out *buffer.Buffer, packet any) error {
	f := packet.(*frame)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(f.payload)))
	out.WriteBytes(header[:])
	out.WriteBytes(f.payload)
	return nil
}

// echoProcess copies the request payload into the response.
func echoProcess(message *Message) {
	req := message.Request().(*frame)
	message.SetResponse(&frame{payload: req.payload})
}

// echoHandler returns a complete echo Handler.
func echoHandler() Handler {
	return Handler{
		Decode:  decodeFrame,
		Encode:  encodeFrame,
		Process: echoProcess,
	}
}

// startServer builds and starts a server on a free port.
func startServer(t *testing.T, handler Handler, opts ...Option) (*Server, int) {
	t.Helper()
	opts = append([]Option{WithLogger(log.DiscardLogger)}, opts...)
	srv, err := NewServer(opts...)
	require.NoError(t, err)

	ports := dynaport.Get(1)
	require.NoError(t, srv.AddListener("127.0.0.1", ports[0], handler))
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Destroy)
	return srv, ports[0]
}

// dial connects a test client.
func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	require.Eventually(t, func() bool {
		conn, err = net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		return err == nil
	}, time.Second, 10*time.Millisecond)
	return conn
}

// writeFrame sends one length-prefixed frame on the client side.
func writeFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	_, err := conn.Write(header[:])
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

// readFrame reads one length-prefixed frame on the client side.
func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var header [4]byte
	_, err := io.ReadFull(conn, header[:])
	require.NoError(t, err)
	payload := make([]byte, binary.BigEndian.Uint32(header[:]))
	_, err = io.ReadFull(conn, payload)
	require.NoError(t, err)
	return payload
}

func TestNewServer(t *testing.T) {
	t.Run("With invalid io thread count", func(t *testing.T) {
		srv, err := NewServer(WithIOThreadCount(0), WithLogger(log.DiscardLogger))
		require.Nil(t, srv)
		assert.ErrorIs(t, err, gerrors.ErrInvalidIOThreadCount)
	})
	t.Run("With negative worker thread count", func(t *testing.T) {
		srv, err := NewServer(WithWorkerThreadCount(-1), WithLogger(log.DiscardLogger))
		require.Nil(t, srv)
		assert.ErrorIs(t, err, gerrors.ErrInvalidWorkerThreadCount)
	})
	t.Run("With defaults", func(t *testing.T) {
		srv, err := NewServer(WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		require.NotNil(t, srv)
		srv.Destroy()
	})
}

func TestServerLifecycle(t *testing.T) {
	t.Run("With double start", func(t *testing.T) {
		srv, err := NewServer(WithIOThreadCount(1), WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		require.NoError(t, srv.Start())
		assert.ErrorIs(t, srv.Start(), gerrors.ErrServerStarted)
		srv.Destroy()
	})
	t.Run("With run before start", func(t *testing.T) {
		srv, err := NewServer(WithIOThreadCount(1), WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		assert.ErrorIs(t, srv.Run(), gerrors.ErrServerNotStarted)
		srv.Destroy()
	})
	t.Run("With stop before start", func(t *testing.T) {
		srv, err := NewServer(WithIOThreadCount(1), WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		assert.ErrorIs(t, srv.Stop(), gerrors.ErrServerNotStarted)
		srv.Destroy()
	})
	t.Run("With listener added after start", func(t *testing.T) {
		srv, err := NewServer(WithIOThreadCount(1), WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		require.NoError(t, srv.Start())
		ports := dynaport.Get(1)
		assert.ErrorIs(t, srv.AddListener("127.0.0.1", ports[0], echoHandler()), gerrors.ErrServerStarted)
		srv.Destroy()
	})
	t.Run("With run unblocked by stop", func(t *testing.T) {
		srv, err := NewServer(WithIOThreadCount(2), WithLogger(log.DiscardLogger))
		require.NoError(t, err)
		require.NoError(t, srv.Start())

		done := make(chan error, 1)
		go func() { done <- srv.Run() }()

		require.NoError(t, srv.Stop())
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after Stop")
		}
		srv.Destroy()
	})
}

func TestSingleReactorEcho(t *testing.T) {
	disconnected := atomic.NewInt32(0)
	handler := echoHandler()
	handler.OnDisconnect = func(*Connection) { disconnected.Inc() }

	srv, port := startServer(t, handler, WithIOThreadCount(1))

	client := dial(t, port)
	writeFrame(t, client, []byte("abc"))
	assert.Equal(t, []byte("abc"), readFrame(t, client))

	require.NoError(t, client.Close())
	assert.Eventually(t, func() bool { return disconnected.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCallbackOrdering(t *testing.T) {
	var mu sync.Mutex
	var events []string
	record := func(event string) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}

	handler := Handler{
		Decode: func(in *buffer.Buffer) (any, error) {
			record("decode")
			return decodeFrame(in)
		},
		Encode: encodeFrame,
		Process: func(message *Message) {
			record("process")
			echoProcess(message)
		},
		OnConnect:    func(*Connection) { record("connect") },
		OnDisconnect: func(*Connection) { record("disconnect") },
	}

	_, port := startServer(t, handler, WithIOThreadCount(1))

	client := dial(t, port)
	writeFrame(t, client, []byte("ping"))
	readFrame(t, client)
	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0 && events[len(events)-1] == "disconnect"
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "connect", events[0])
	assert.Equal(t, "disconnect", events[len(events)-1])
	// disconnect fired exactly once
	count := 0
	for _, event := range events {
		if event == "disconnect" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestFanOutSteering(t *testing.T) {
	const reactors = 3
	const clients = 20

	srv, port := startServer(t, echoHandler(), WithIOThreadCount(reactors))

	conns := make([]net.Conn, 0, clients)
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()
	for i := 0; i < clients; i++ {
		conns = append(conns, dial(t, port))
	}

	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == clients
	}, 2*time.Second, 10*time.Millisecond)

	// every accepted fd must be steered to follower (fd mod (N-1)) + 1 and
	// never to the leader
	require.Eventually(t, func() bool {
		for _, conn := range srv.snapshotConnections() {
			reactor := conn.ioThread.Load()
			if reactor == nil {
				return false
			}
			if reactor.idx != conn.fd%(reactors-1)+1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	// steered connections still echo
	for i, conn := range conns {
		payload := []byte(fmt.Sprintf("conn-%d", i))
		writeFrame(t, conn, payload)
		assert.Equal(t, payload, readFrame(t, conn))
	}
}

func TestWorkerOffload(t *testing.T) {
	const workers = 4
	const clients = 8

	handler := Handler{
		Decode: decodeFrame,
		Encode: encodeFrame,
		Process: func(message *Message) {
			time.Sleep(50 * time.Millisecond)
			echoProcess(message)
		},
	}

	_, port := startServer(t, handler, WithIOThreadCount(2), WithWorkerThreadCount(workers))

	conns := make([]net.Conn, 0, clients)
	for i := 0; i < clients; i++ {
		conn := dial(t, port)
		defer conn.Close()
		conns = append(conns, conn)
	}

	started := time.Now()
	for _, conn := range conns {
		writeFrame(t, conn, []byte("work"))
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			assert.Equal(t, []byte("work"), readFrame(t, conn))
		}(conn)
	}
	wg.Wait()

	// eight 50ms requests across four workers need two batches, well under
	// the 400ms a serial run would take
	assert.Less(t, time.Since(started), 350*time.Millisecond)
}

func TestPipelinedFrames(t *testing.T) {
	_, port := startServer(t, echoHandler(), WithIOThreadCount(1))

	client := dial(t, port)
	defer client.Close()

	// several frames sent back to back are all drained
	for i := 0; i < 5; i++ {
		writeFrame(t, client, []byte(fmt.Sprintf("frame-%d", i)))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, []byte(fmt.Sprintf("frame-%d", i)), readFrame(t, client))
	}
}

func TestResponsesInOrder(t *testing.T) {
	// without a worker pool responses come back in request order
	_, port := startServer(t, echoHandler(), WithIOThreadCount(1))

	client := dial(t, port)
	defer client.Close()

	const frames = 50
	for i := 0; i < frames; i++ {
		writeFrame(t, client, []byte(fmt.Sprintf("seq-%04d", i)))
	}
	for i := 0; i < frames; i++ {
		assert.Equal(t, []byte(fmt.Sprintf("seq-%04d", i)), readFrame(t, client))
	}
}

func TestPartialFrame(t *testing.T) {
	processed := atomic.NewInt32(0)
	handler := Handler{
		Decode: decodeFrame,
		Encode: encodeFrame,
		Process: func(message *Message) {
			processed.Inc()
			echoProcess(message)
		},
	}
	_, port := startServer(t, handler, WithIOThreadCount(1))

	client := dial(t, port)
	defer client.Close()

	// a partial header must not produce a packet
	_, err := client.Write([]byte{0x00, 0x00})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, processed.Load())

	// completing the frame delivers it intact
	_, err = client.Write([]byte{0x00, 0x03, 'a', 'b', 'c'})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), readFrame(t, client))
	assert.EqualValues(t, 1, processed.Load())
}

func TestDecodeError(t *testing.T) {
	disconnected := atomic.NewInt32(0)
	handler := echoHandler()
	handler.OnDisconnect = func(*Connection) { disconnected.Inc() }

	srv, port := startServer(t, handler, WithIOThreadCount(1))

	client := dial(t, port)
	defer client.Close()

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	serverConns := srv.snapshotConnections()
	require.Len(t, serverConns, 1)
	serverConn := serverConns[0]

	// an absurd length prefix is a framing error: the connection must close
	_, err := client.Write([]byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return disconnected.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)

	// the peer observes the close
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, err = client.Read(make([]byte, 1))
	assert.Error(t, err)

	// further sends on the dead connection fail fast
	assert.ErrorIs(t, serverConn.Send(&frame{payload: []byte("late")}), gerrors.ErrConnectionClosed)
}

func TestSend(t *testing.T) {
	t.Run("With nil connection", func(t *testing.T) {
		var conn *Connection
		assert.ErrorIs(t, conn.Send(&frame{}), gerrors.ErrNilConnection)
	})
	t.Run("With server initiated push", func(t *testing.T) {
		srv, port := startServer(t, echoHandler(), WithIOThreadCount(1))

		client := dial(t, port)
		defer client.Close()

		require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
		serverConns := srv.snapshotConnections()
		require.Len(t, serverConns, 1)

		require.NoError(t, serverConns[0].Send(&frame{payload: []byte("push")}))
		assert.Equal(t, []byte("push"), readFrame(t, client))
	})
}

func TestBackpressure(t *testing.T) {
	srv, port := startServer(t, echoHandler(), WithIOThreadCount(1))

	client := dial(t, port)
	defer client.Close()

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	serverConns := srv.snapshotConnections()
	require.Len(t, serverConns, 1)
	serverConn := serverConns[0]

	// 8 MiB dwarfs the kernel socket buffers, forcing the write watcher to
	// drain the backlog as the client reads
	payload := make([]byte, 8<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, serverConn.Send(&frame{payload: payload}))

	// let the server block on a full socket buffer before reading
	time.Sleep(100 * time.Millisecond)
	assert.True(t, serverConn.IsOpen())

	received := readFrame(t, client)
	require.Len(t, received, len(payload))
	assert.Equal(t, payload, received)
	assert.True(t, serverConn.IsOpen())
}

func TestCloseDuringInflightWork(t *testing.T) {
	started := atomic.NewInt32(0)
	processed := atomic.NewInt32(0)
	handler := Handler{
		Decode: decodeFrame,
		Encode: encodeFrame,
		Process: func(message *Message) {
			started.Inc()
			time.Sleep(100 * time.Millisecond)
			processed.Inc()
			echoProcess(message)
		},
	}

	srv, port := startServer(t, handler, WithIOThreadCount(2), WithWorkerThreadCount(2))

	client := dial(t, port)
	writeFrame(t, client, []byte("doomed"))

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	serverConns := srv.snapshotConnections()
	require.Len(t, serverConns, 1)
	serverConn := serverConns[0]

	// make sure the frame reached a worker before resetting
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)

	// reset the connection while the worker is still processing
	tcpConn := client.(*net.TCPConn)
	require.NoError(t, tcpConn.SetLinger(0))
	require.NoError(t, tcpConn.Close())

	// the worker finishes, the returned message is destroyed, and the
	// connection is destroyed exactly once with its refcount at zero
	assert.Eventually(t, func() bool { return processed.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return serverConn.destroyed.Load() }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return serverConn.refCount.Load() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPacketCleanup(t *testing.T) {
	cleaned := atomic.NewInt32(0)
	handler := echoHandler()
	handler.PacketCleanup = func(packet any) { cleaned.Inc() }

	_, port := startServer(t, handler, WithIOThreadCount(1))

	client := dial(t, port)
	defer client.Close()

	writeFrame(t, client, []byte("recycle"))
	readFrame(t, client)

	// request and response packets are both released
	assert.Eventually(t, func() bool { return cleaned.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestNilDecodeDropsBytes(t *testing.T) {
	handler := Handler{
		Encode: encodeFrame,
	}
	srv, port := startServer(t, handler, WithIOThreadCount(1))

	client := dial(t, port)
	defer client.Close()

	writeFrame(t, client, []byte("ignored"))

	// bytes are dropped but the socket stays open
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, srv.ConnectionCount())
}

func TestMultipleListeners(t *testing.T) {
	srv, err := NewServer(WithIOThreadCount(2), WithLogger(log.DiscardLogger))
	require.NoError(t, err)

	ports := dynaport.Get(2)
	require.NoError(t, srv.AddListener("127.0.0.1", ports[0], echoHandler()))

	// the second listener upper-cases instead of echoing
	upper := Handler{
		Decode: decodeFrame,
		Encode: encodeFrame,
		Process: func(message *Message) {
			req := message.Request().(*frame)
			out := make([]byte, len(req.payload))
			for i, b := range req.payload {
				if b >= 'a' && b <= 'z' {
					b -= 'a' - 'A'
				}
				out[i] = b
			}
			message.SetResponse(&frame{payload: out})
		},
	}
	require.NoError(t, srv.AddListener("127.0.0.1", ports[1], upper))
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Destroy)

	echoClient := dial(t, ports[0])
	defer echoClient.Close()
	upperClient := dial(t, ports[1])
	defer upperClient.Close()

	writeFrame(t, echoClient, []byte("hello"))
	writeFrame(t, upperClient, []byte("hello"))
	assert.Equal(t, []byte("hello"), readFrame(t, echoClient))
	assert.Equal(t, []byte("HELLO"), readFrame(t, upperClient))
}

func TestStopClosesConnections(t *testing.T) {
	disconnected := atomic.NewInt32(0)
	handler := echoHandler()
	handler.OnDisconnect = func(*Connection) { disconnected.Inc() }

	srv, port := startServer(t, handler, WithIOThreadCount(2))

	clients := make([]net.Conn, 0, 4)
	defer func() {
		for _, client := range clients {
			_ = client.Close()
		}
	}()
	for i := 0; i < 4; i++ {
		clients = append(clients, dial(t, port))
	}
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 4 }, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Stop())
	assert.EqualValues(t, 4, disconnected.Load())
	assert.EqualValues(t, 0, srv.ConnectionCount())
}
