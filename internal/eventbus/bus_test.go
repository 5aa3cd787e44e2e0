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
package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New(WithCapacity(16))
	r := b.Subscribe()
	defer r.Close()

	b.Publish(SessionStarted("s1"))
	b.Publish(AgentSpawned("s1", "a1"))
	b.Publish(SessionEnded("s1"))

	ctx := context.Background()
	ev1, err := r.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindSessionStarted, ev1.Kind)

	ev2, err := r.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindAgentSpawned, ev2.Kind)

	ev3, err := r.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindSessionEnded, ev3.Kind)
}

func TestSlowSubscriberReceivesLagIndicatorThenResumes(t *testing.T) {
	b := New(WithCapacity(4))
	r := b.Subscribe()
	defer r.Close()

	for i := 0; i < 10; i++ {
		b.Publish(ToolCallProgress("s1", "a1", "call1", "step"))
	}

	ctx := context.Background()
	lag, err := r.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, KindLag, lag.Kind)
	assert.Equal(t, int64(6), lag.Missed)

	for i := 0; i < 4; i++ {
		ev, err := r.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, KindToolCallProgress, ev.Kind)
	}
}

func TestMultipleSubscribersEachGetAllEvents(t *testing.T) {
	b := New(WithCapacity(16))
	r1 := b.Subscribe()
	r2 := b.Subscribe()
	defer r1.Close()
	defer r2.Close()

	b.Publish(SessionStarted("s1"))

	ctx := context.Background()
	ev1, err := r1.Recv(ctx)
	require.NoError(t, err)
	ev2, err := r2.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, ev1.Kind, ev2.Kind)
}

func TestRecvRespectsContextCancellation(t *testing.T) {
	b := New(WithCapacity(4))
	r := b.Subscribe()
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseUnblocksPendingRecv(t *testing.T) {
	b := New(WithCapacity(4))
	r := b.Subscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	var recvErr error
	go func() {
		defer wg.Done()
		_, recvErr = r.Recv(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	r.Close()
	wg.Wait()
	assert.ErrorIs(t, recvErr, ErrClosed)
}

func TestSubscriberCountTracksSubscribeAndClose(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.SubscriberCount())
	r := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())
	r.Close()
	assert.Equal(t, 0, b.SubscriberCount())
}
