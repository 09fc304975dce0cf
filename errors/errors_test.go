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

package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinels(t *testing.T) {
	// sentinels survive wrapping
	wrapped := fmt.Errorf("starting server: %w", ErrServerStarted)
	assert.ErrorIs(t, wrapped, ErrServerStarted)

	// every sentinel carries a distinct message
	sentinels := []error{
		ErrInvalidIOThreadCount,
		ErrInvalidWorkerThreadCount,
		ErrServerStarted,
		ErrServerNotStarted,
		ErrNilConnection,
		ErrConnectionClosed,
		ErrConnectionNotReady,
	}
	seen := make(map[string]bool, len(sentinels))
	for _, sentinel := range sentinels {
		assert.False(t, seen[sentinel.Error()])
		seen[sentinel.Error()] = true
	}
}
