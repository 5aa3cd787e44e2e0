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
package stream

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/loomcore/internal/cancel"
	"github.com/teradata-labs/loomcore/internal/errs"
	"github.com/teradata-labs/loomcore/internal/eventbus"
	"github.com/teradata-labs/loomcore/internal/message"
)

const sampleStream = `event: message_start
data: {"message":{"id":"msg_1","model":"claude-x","role":"assistant","usage":{"input_tokens":12}}}

event: content_block_start
data: {"index":0,"content_block":{"type":"text"}}

event: content_block_delta
data: {"index":0,"delta":{"type":"text_delta","text":"Hello, "}}

event: content_block_delta
data: {"index":0,"delta":{"type":"text_delta","text":"world"}}

event: content_block_stop
data: {"index":0}

event: content_block_start
data: {"index":1,"content_block":{"type":"tool_use","id":"call_1","name":"read"}}

event: content_block_delta
data: {"index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}

event: content_block_delta
data: {"index":1,"delta":{"type":"input_json_delta","partial_json":"\"a.txt\"}"}}

event: content_block_stop
data: {"index":1}

event: message_delta
data: {"delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}

event: message_stop
data: {}

`

func TestRunAssemblesTextAndToolUseBlocks(t *testing.T) {
	d := New(nil, "sess-1", "agent-1", nil)
	msg, err := d.Run(context.Background(), strings.NewReader(sampleStream))
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, "msg_1", msg.ID)
	assert.Equal(t, "Hello, world", msg.Text())
	assert.True(t, msg.IsFinalized())
	assert.Equal(t, message.StopToolUse, msg.StopReason)
	assert.Equal(t, 9, msg.Usage.OutputTokens)

	uses := msg.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "call_1", uses[0].CallID)
	assert.Equal(t, "read", uses[0].Name)
	assert.JSONEq(t, `{"path":"a.txt"}`, uses[0].InputJSON)
}

func TestRunPublishesDeltaEventsInOrder(t *testing.T) {
	bus := eventbus.New(eventbus.WithCapacity(64))
	r := bus.Subscribe()
	defer r.Close()

	d := New(bus, "sess-1", "agent-1", nil)
	_, err := d.Run(context.Background(), strings.NewReader(sampleStream))
	require.NoError(t, err)

	var kinds []eventbus.Kind
	var deltas []string
	for {
		recvCtx, stop := context.WithTimeout(context.Background(), 0)
		ev, err := r.Recv(recvCtx)
		stop()
		if err != nil {
			break
		}
		kinds = append(kinds, ev.Kind)
		if ev.Kind == eventbus.KindContentBlockDelta {
			deltas = append(deltas, ev.Text)
		}
	}
	assert.Contains(t, kinds, eventbus.KindMessageStart)
	assert.Contains(t, kinds, eventbus.KindContentBlockDelta)
	assert.Contains(t, kinds, eventbus.KindMessageStop)
	assert.Equal(t, []string{"Hello, ", "world", `{"path":`, `"a.txt"}`}, deltas)
}

func TestRunFailsBlockOnMalformedToolJSONButContinuesStream(t *testing.T) {
	const malformed = `event: message_start
data: {"message":{"id":"msg_2","model":"claude-x","role":"assistant"}}

event: content_block_start
data: {"index":0,"content_block":{"type":"tool_use","id":"call_1","name":"read"}}

event: content_block_delta
data: {"index":0,"delta":{"type":"input_json_delta","partial_json":"{not valid json"}}

event: content_block_stop
data: {"index":0}

event: content_block_start
data: {"index":1,"content_block":{"type":"text"}}

event: content_block_delta
data: {"index":1,"delta":{"type":"text_delta","text":"still works"}}

event: content_block_stop
data: {"index":1}

event: message_stop
data: {}

`
	d := New(nil, "sess-1", "agent-1", nil)
	msg, err := d.Run(context.Background(), strings.NewReader(malformed))
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Empty(t, msg.ToolUses())
	assert.Equal(t, "still works", msg.Text())
}

func TestRunReturnsCancelledWhenTokenAlreadyCancelled(t *testing.T) {
	tok := cancel.New()
	tok.Cancel()

	d := New(nil, "sess-1", "agent-1", tok)
	_, err := d.Run(context.Background(), strings.NewReader(sampleStream))
	assert.Error(t, err)
	assert.Equal(t, errs.KindCancelled, errs.Classify(err).Kind)
}

func TestRunReturnsErrorOnTruncatedStream(t *testing.T) {
	truncated := `event: message_start
data: {"message":{"id":"msg_3","model":"claude-x","role":"assistant"}}

event: content_block_start
data: {"index":0,"content_block":{"type":"text"}}
`
	d := New(nil, "sess-1", "agent-1", nil)
	_, err := d.Run(context.Background(), strings.NewReader(truncated))
	assert.Error(t, err)
}
