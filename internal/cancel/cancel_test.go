// Copyright 2026 The Loomcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cancel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelIsIdempotent(t *testing.T) {
	root := New()
	root.Cancel()
	root.Cancel()
	assert.True(t, root.IsCancelled())
}

func TestChildCancelledWhenParentCancelled(t *testing.T) {
	root := New()
	session := root.Child()
	agent := session.Child()
	toolCall := agent.Child()

	assert.False(t, toolCall.IsCancelled())
	root.Cancel()

	select {
	case <-toolCall.Cancelled():
	case <-time.After(time.Second):
		t.Fatal("descendant token was not cancelled within timeout")
	}
	assert.True(t, session.IsCancelled())
	assert.True(t, agent.IsCancelled())
	assert.True(t, toolCall.IsCancelled())
}

func TestChildOfAlreadyCancelledParentIsCancelled(t *testing.T) {
	root := New()
	root.Cancel()
	child := root.Child()
	assert.True(t, child.IsCancelled())
}

func TestCancelledNeverBlocksAfterCancel(t *testing.T) {
	root := New()
	root.Cancel()
	for i := 0; i < 100; i++ {
		select {
		case <-root.Cancelled():
		default:
			t.Fatal("cancelled() channel should resolve immediately post-cancel")
		}
	}
}

func TestCancelPropagatesToManyDescendantsConcurrently(t *testing.T) {
	root := New()
	const n = 500
	var wg sync.WaitGroup
	children := make([]*Token, n)
	for i := range children {
		children[i] = root.Child()
	}

	wg.Add(n)
	for _, c := range children {
		go func(c *Token) {
			defer wg.Done()
			<-c.Cancelled()
		}(c)
	}

	root.Cancel()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all descendants observed cancellation")
	}
}

func TestCancelCauseRecordsReason(t *testing.T) {
	root := New()
	boom := assertError("boom")
	root.CancelCause(boom)
	require.Equal(t, boom, root.Err())
}

func TestNilCancelCauseDefaultsToErrCancelled(t *testing.T) {
	root := New()
	root.CancelCause(nil)
	require.Equal(t, ErrCancelled, root.Err())
}

type testErr string

func (e testErr) Error() string { return string(e) }

func assertError(s string) error { return testErr(s) }
