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
package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextConcatenatesInOrder(t *testing.T) {
	m := New("sess-1", RoleAssistant)
	m.AddBlock(Text{Text: "Hi"})
	m.AddBlock(Text{Text: " there"})
	assert.Equal(t, "Hi there", m.Text())
}

func TestAddBlockPanicsAfterFinalize(t *testing.T) {
	m := New("sess-1", RoleAssistant)
	m.Finalize(StopEndTurn)
	assert.Panics(t, func() {
		m.AddBlock(Text{Text: "too late"})
	})
}

func TestToolUsesExtractsOnlyToolUseBlocks(t *testing.T) {
	m := New("sess-1", RoleAssistant)
	m.AddBlock(Text{Text: "thinking out loud"})
	m.AddBlock(ToolUse{CallID: "call_1", Name: "read"})
	m.AddBlock(ToolUse{CallID: "call_2", Name: "grep"})
	uses := m.ToolUses()
	require.Len(t, uses, 2)
	assert.Equal(t, "call_1", uses[0].CallID)
	assert.Equal(t, "call_2", uses[1].CallID)
}

func TestToolResultMessageIsFinalizedAndTagged(t *testing.T) {
	m := ToolResultMessage("sess-1", "call_1", "file contents", false)
	assert.Equal(t, RoleTool, m.Role)
	assert.True(t, m.IsFinalized())
	require.Len(t, m.Blocks, 1)
	tr, ok := m.Blocks[0].(ToolResult)
	require.True(t, ok)
	assert.Equal(t, "call_1", tr.CallID)
	assert.False(t, tr.IsError)
}
