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

package socket

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"
	"golang.org/x/sys/unix"
)

func TestListen(t *testing.T) {
	t.Run("With valid address", func(t *testing.T) {
		ports := dynaport.Get(1)
		fd, err := Listen("127.0.0.1", ports[0], 128)
		require.NoError(t, err)
		require.Positive(t, fd)
		assert.NoError(t, Close(fd))
	})
	t.Run("With invalid address", func(t *testing.T) {
		_, err := Listen("not-an-ip", 0, 128)
		require.Error(t, err)
	})
	t.Run("With address already in use", func(t *testing.T) {
		ports := dynaport.Get(1)
		fd, err := Listen("127.0.0.1", ports[0], 128)
		require.NoError(t, err)
		defer func() { _ = Close(fd) }()

		_, err = Listen("127.0.0.1", ports[0], 128)
		require.Error(t, err)
	})
}

func TestAccept(t *testing.T) {
	ports := dynaport.Get(1)
	fd, err := Listen("127.0.0.1", ports[0], 128)
	require.NoError(t, err)
	require.NoError(t, SetNonblock(fd))
	defer func() { _ = Close(fd) }()

	t.Run("With no pending connection", func(t *testing.T) {
		_, _, _, err := Accept(fd)
		require.Error(t, err)
		assert.True(t, Again(err))
	})
	t.Run("With a pending connection", func(t *testing.T) {
		client, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", ports[0]))
		require.NoError(t, err)
		defer client.Close()

		var clientFd int
		var addr string
		require.Eventually(t, func() bool {
			clientFd, addr, _, err = Accept(fd)
			return err == nil
		}, time.Second, 10*time.Millisecond)
		defer func() { _ = Close(clientFd) }()

		assert.Equal(t, "127.0.0.1", addr)
		require.NoError(t, SetNonblock(clientFd))
		require.NoError(t, SetNoDelay(clientFd))
	})
}

func TestReadWrite(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer func() {
		_ = Close(fds[0])
		_ = Close(fds[1])
	}()
	require.NoError(t, SetNonblock(fds[0]))
	require.NoError(t, SetNonblock(fds[1]))

	t.Run("With round trip", func(t *testing.T) {
		n, err := Write(fds[0], []byte("ping"))
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		out := make([]byte, 16)
		require.Eventually(t, func() bool {
			n, err = Read(fds[1], out)
			return err == nil && n == 4
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, []byte("ping"), out[:4])
	})
	t.Run("With empty socket returning EAGAIN", func(t *testing.T) {
		out := make([]byte, 16)
		_, err := Read(fds[1], out)
		require.Error(t, err)
		assert.True(t, Again(err))
	})
}
