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
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/loomcore/internal/cancel"
	"github.com/teradata-labs/loomcore/internal/config"
	"github.com/teradata-labs/loomcore/internal/eventbus"
	"github.com/teradata-labs/loomcore/internal/message"
)

type fakeAgentHandle struct {
	id     string
	token  *cancel.Token
	paused bool
	done   chan struct{}
}

func (f *fakeAgentHandle) ID() string           { return f.id }
func (f *fakeAgentHandle) Token() *cancel.Token  { return f.token }
func (f *fakeAgentHandle) SetPaused(p bool)      { f.paused = p }
func (f *fakeAgentHandle) Done() <-chan struct{} { return f.done }
func (f *fakeAgentHandle) Err() error            { return nil }

// fakeRunnableAgent is a RunnableAgent whose Run behavior is scripted by
// the test, for exercising Spawn's supervision without a real agent loop.
type fakeRunnableAgent struct {
	fakeAgentHandle
	run func(ctx context.Context, prompt string) (*message.Message, error)
}

func (f *fakeRunnableAgent) Run(ctx context.Context, prompt string) (*message.Message, error) {
	return f.run(ctx, prompt)
}

func newTestSession(t *testing.T) (*Session, *cancel.Token) {
	t.Helper()
	root := cancel.New()
	bus := eventbus.New()
	s := New(root, bus, config.Default(), "test session")
	return s, root
}

func TestAppendHistoryIsOrderedAndReadable(t *testing.T) {
	s, _ := newTestSession(t)
	m1 := message.New(s.ID(), message.RoleUser)
	m2 := message.New(s.ID(), message.RoleAssistant)
	s.AppendHistory(m1)
	s.AppendHistory(m2)

	hist := s.History()
	require.Len(t, hist, 2)
	assert.Equal(t, m1.ID, hist[0].ID)
	assert.Equal(t, m2.ID, hist[1].ID)
}

func TestControlPauseAndResumeToggleIsPaused(t *testing.T) {
	s, root := newTestSession(t)
	defer root.Cancel()

	handle := &fakeAgentHandle{id: "a1", token: root.Child(), done: make(chan struct{})}
	s.RegisterAgent(handle)

	go s.Run(context.Background())
	defer s.End()

	s.Sender().Send(context.Background(), Pause("a1"))
	require.Eventually(t, func() bool { return s.IsPaused("a1") }, time.Second, time.Millisecond)

	s.Sender().Send(context.Background(), Resume("a1"))
	require.Eventually(t, func() bool { return !s.IsPaused("a1") }, time.Second, time.Millisecond)
}

func TestControlCancelCancelsNamedAgentToken(t *testing.T) {
	s, root := newTestSession(t)
	defer root.Cancel()

	handle := &fakeAgentHandle{id: "a1", token: root.Child(), done: make(chan struct{})}
	s.RegisterAgent(handle)

	go s.Run(context.Background())
	defer s.End()

	s.Sender().Send(context.Background(), Cancel("a1"))
	require.Eventually(t, handle.token.IsCancelled, time.Second, time.Millisecond)
}

func TestControlUpdateConfigReplacesConfigReference(t *testing.T) {
	s, root := newTestSession(t)
	defer root.Cancel()

	go s.Run(context.Background())
	defer s.End()

	newCfg := config.Default()
	newCfg.MaxSteps = 99
	s.Sender().Send(context.Background(), UpdateConfig("a1", newCfg))

	require.Eventually(t, func() bool { return s.Config().MaxSteps == 99 }, time.Second, time.Millisecond)
}

func TestMsgToolResultIsAppendedToHistory(t *testing.T) {
	s, root := newTestSession(t)
	defer root.Cancel()

	go s.Run(context.Background())
	defer s.End()

	result := message.ToolResultMessage(s.ID(), "call_1", "done", false)
	s.Sender().Send(context.Background(), ToolResultMsg("a1", result))

	require.Eventually(t, func() bool { return len(s.History()) == 1 }, time.Second, time.Millisecond)
}

func TestSpawnRemovesHandleAndPublishesAgentCompletedOnSuccess(t *testing.T) {
	s, root := newTestSession(t)
	defer root.Cancel()
	recv := s.bus.Subscribe()
	defer recv.Close()

	a := &fakeRunnableAgent{
		fakeAgentHandle: fakeAgentHandle{id: "a1", token: root.Child(), done: make(chan struct{})},
		run: func(ctx context.Context, prompt string) (*message.Message, error) {
			return message.New(s.ID(), message.RoleAssistant), nil
		},
	}
	s.RegisterAgent(a)

	s.Spawn(context.Background(), a, "hi")

	ev := waitForKind(t, recv, eventbus.KindAgentCompleted)
	assert.NoError(t, ev.Err)
	_, stillThere := s.Agent("a1")
	assert.False(t, stillThere)
}

func TestSpawnRecoversPanicAndPublishesFatalAgentCompleted(t *testing.T) {
	s, root := newTestSession(t)
	defer root.Cancel()
	recv := s.bus.Subscribe()
	defer recv.Close()

	a := &fakeRunnableAgent{
		fakeAgentHandle: fakeAgentHandle{id: "a1", token: root.Child(), done: make(chan struct{})},
		run: func(ctx context.Context, prompt string) (*message.Message, error) {
			panic("boom")
		},
	}
	s.RegisterAgent(a)

	// Spawn's recover() keeps this goroutine's panic from crashing the
	// test binary; if it didn't, the process would exit before reaching
	// the assertions below.
	s.Spawn(context.Background(), a, "hi")

	ev := waitForKind(t, recv, eventbus.KindAgentCompleted)
	require.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), "boom")
	_, stillThere := s.Agent("a1")
	assert.False(t, stillThere)
}

func waitForKind(t *testing.T, recv *eventbus.Receiver, kind eventbus.Kind) eventbus.Event {
	t.Helper()
	for {
		ctx, cancelRecv := context.WithTimeout(context.Background(), time.Second)
		ev, err := recv.Recv(ctx)
		cancelRecv()
		require.NoError(t, err)
		if ev.Kind == kind {
			return ev
		}
	}
}

func TestInfoMergeKeepsExistingFieldsNotInUpdate(t *testing.T) {
	info := Info{Title: "original", Cost: 1.5, Model: "claude"}
	merged := info.Merge(Info{Cost: 2.0})

	assert.Equal(t, "original", merged.Title)
	assert.Equal(t, 2.0, merged.Cost)
	assert.Equal(t, "claude", merged.Model)
}
