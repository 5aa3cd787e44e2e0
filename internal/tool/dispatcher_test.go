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
package tool

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/loomcore/internal/cancel"
)

// fakeTool is a minimal, configurable Tool for exercising the dispatcher.
type fakeTool struct {
	spec     Spec
	decision Decision
	execute  func(ctx context.Context, input json.RawMessage, progress ProgressFunc) (Result, error)
}

func (f *fakeTool) Spec() Spec { return f.spec }

func (f *fakeTool) CheckPermission(ctx context.Context, input json.RawMessage) (Decision, error) {
	// The zero value of Decision already has Kind == Allow, so a
	// fakeTool with no explicit decision configured allows by default.
	return f.decision, nil
}

func (f *fakeTool) Execute(ctx context.Context, input json.RawMessage, progress ProgressFunc) (Result, error) {
	if f.execute != nil {
		return f.execute(ctx, input, progress)
	}
	return TextResult("ok"), nil
}

func TestDispatchReturnsResultsInOriginalOrderNotCompletionOrder(t *testing.T) {
	registry := NewRegistry()
	var releaseSlow sync.WaitGroup
	releaseSlow.Add(1)

	slow := &fakeTool{
		spec: Spec{Name: "slow", Mode: Parallel},
		execute: func(ctx context.Context, input json.RawMessage, progress ProgressFunc) (Result, error) {
			releaseSlow.Wait()
			return TextResult("slow-done"), nil
		},
	}
	fast := &fakeTool{spec: Spec{Name: "fast", Mode: Parallel}}
	registry.Register(slow)
	registry.Register(fast)

	d := NewDispatcher(registry, WithGlobalConcurrency(8))

	done := make(chan []*Call, 1)
	go func() {
		calls, _ := d.Dispatch(context.Background(), "s1", "a1", []Request{
			{ID: "1", Name: "slow"},
			{ID: "2", Name: "fast"},
		}, cancel.New())
		done <- calls
	}()

	time.Sleep(20 * time.Millisecond)
	releaseSlow.Done()

	calls := <-done
	require.Len(t, calls, 2)
	assert.Equal(t, "1", calls[0].ID)
	assert.Equal(t, "2", calls[1].ID)
	r0, _ := calls[0].Result()
	assert.Equal(t, "slow-done", r0.Text)
}

func TestSequentialToolsRunAfterParallelBucketCompletes(t *testing.T) {
	registry := NewRegistry()
	var mu sync.Mutex
	var order []string

	mkTool := func(name string, mode ConcurrencyMode, delay time.Duration) *fakeTool {
		return &fakeTool{
			spec: Spec{Name: name, Mode: mode},
			execute: func(ctx context.Context, input json.RawMessage, progress ProgressFunc) (Result, error) {
				time.Sleep(delay)
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return Result{}, nil
			},
		}
	}
	registry.Register(mkTool("par", Parallel, 10*time.Millisecond))
	registry.Register(mkTool("seq", Sequential, 0))

	d := NewDispatcher(registry)
	_, err := d.Dispatch(context.Background(), "s1", "a1", []Request{
		{ID: "1", Name: "par"},
		{ID: "2", Name: "seq"},
	}, cancel.New())
	require.NoError(t, err)

	require.Len(t, order, 2)
	assert.Equal(t, "par", order[0])
	assert.Equal(t, "seq", order[1])
}

func TestGlobalConcurrencyBoundsRunningCount(t *testing.T) {
	registry := NewRegistry()
	var running int32
	var maxObserved int32
	var block sync.WaitGroup
	block.Add(1)

	mk := func(name string) *fakeTool {
		return &fakeTool{
			spec: Spec{Name: name, Mode: Parallel},
			execute: func(ctx context.Context, input json.RawMessage, progress ProgressFunc) (Result, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&maxObserved)
					if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
						break
					}
				}
				block.Wait()
				atomic.AddInt32(&running, -1)
				return Result{}, nil
			},
		}
	}
	reqs := make([]Request, 6)
	for i := 0; i < 6; i++ {
		name := "t"
		registry.Register(mk(name + string(rune('0'+i))))
		reqs[i] = Request{ID: string(rune('0' + i)), Name: name + string(rune('0'+i))}
	}

	d := NewDispatcher(registry, WithGlobalConcurrency(2))
	go func() {
		_, _ = d.Dispatch(context.Background(), "s1", "a1", reqs, cancel.New())
	}()

	time.Sleep(50 * time.Millisecond)
	block.Done()
	time.Sleep(20 * time.Millisecond)

	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxObserved)), 2)
}

func TestLimitedModeBoundsPerToolConcurrency(t *testing.T) {
	registry := NewRegistry()
	var running int32
	var maxObserved int32
	var block sync.WaitGroup
	block.Add(1)

	limited := &fakeTool{
		spec: Spec{Name: "limited", Mode: Limited, Limit: 1},
		execute: func(ctx context.Context, input json.RawMessage, progress ProgressFunc) (Result, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxObserved)
				if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
					break
				}
			}
			block.Wait()
			atomic.AddInt32(&running, -1)
			return Result{}, nil
		},
	}
	registry.Register(limited)

	d := NewDispatcher(registry, WithGlobalConcurrency(8))
	go func() {
		_, _ = d.Dispatch(context.Background(), "s1", "a1", []Request{
			{ID: "1", Name: "limited"},
			{ID: "2", Name: "limited"},
			{ID: "3", Name: "limited"},
		}, cancel.New())
	}()

	time.Sleep(50 * time.Millisecond)
	block.Done()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxObserved))
}

func TestDenyDecisionMarksCallDenied(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{
		spec:     Spec{Name: "danger", Mode: Parallel},
		decision: Decision{Kind: Deny, Reason: "too risky"},
	})

	d := NewDispatcher(registry)
	calls, err := d.Dispatch(context.Background(), "s1", "a1", []Request{{ID: "1", Name: "danger"}}, cancel.New())
	require.NoError(t, err)
	assert.Equal(t, Denied, calls[0].State())
}

type allowResolver struct{}

func (allowResolver) Resolve(ctx context.Context, sessionID, agentID, callID, toolName, question string) (Decision, error) {
	return Decision{Kind: Allow}, nil
}

func TestAskDecisionGrantedViaResolverRunsTheTool(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{
		spec:     Spec{Name: "ask-tool", Mode: Parallel},
		decision: Decision{Kind: Ask, Question: "ok?"},
	})

	d := NewDispatcher(registry, WithPermissionResolver(allowResolver{}))
	calls, err := d.Dispatch(context.Background(), "s1", "a1", []Request{{ID: "1", Name: "ask-tool"}}, cancel.New())
	require.NoError(t, err)
	assert.Equal(t, Success, calls[0].State())
}

func TestAskDecisionWithNoResolverIsDenied(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{
		spec:     Spec{Name: "ask-tool", Mode: Parallel},
		decision: Decision{Kind: Ask, Question: "ok?"},
	})

	d := NewDispatcher(registry)
	calls, err := d.Dispatch(context.Background(), "s1", "a1", []Request{{ID: "1", Name: "ask-tool"}}, cancel.New())
	require.NoError(t, err)
	assert.Equal(t, Denied, calls[0].State())
}

func TestTimeoutTransitionsCallAndCancelsItsToken(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{
		spec: Spec{Name: "hangs", Mode: Parallel, MaxExecutionTime: 10 * time.Millisecond},
		execute: func(ctx context.Context, input json.RawMessage, progress ProgressFunc) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	})

	d := NewDispatcher(registry)
	calls, err := d.Dispatch(context.Background(), "s1", "a1", []Request{{ID: "1", Name: "hangs"}}, cancel.New())
	require.NoError(t, err)
	assert.Equal(t, TimedOut, calls[0].State())
	assert.True(t, calls[0].Token.IsCancelled())
}

func TestUnknownToolFailsTheCall(t *testing.T) {
	registry := NewRegistry()
	d := NewDispatcher(registry)
	calls, err := d.Dispatch(context.Background(), "s1", "a1", []Request{{ID: "1", Name: "nope"}}, cancel.New())
	require.NoError(t, err)
	assert.Equal(t, FailedState, calls[0].State())
}
