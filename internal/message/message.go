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

// Package message defines the conversation data model: Message, its
// typed content blocks, and the ToolCall/ToolResult records the tool
// dispatcher produces and consumes.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason classifies why an assistant message finished.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopError        StopReason = "error"
	StopCancelled    StopReason = "cancelled"
)

// ContentBlock is a marker interface implemented by every typed content
// block a Message may carry: Text, Image, ToolUse, ToolResult, Thinking.
type ContentBlock interface {
	isContentBlock()
}

// Text is a plain-text content block.
type Text struct {
	Text string
}

func (Text) isContentBlock() {}

// Image is an image content block with an explicit media type, matching
// the wire format of a provider's content_block payloads.
type Image struct {
	MediaType string // e.g. "image/png"
	Data      []byte
}

func (Image) isContentBlock() {}

// ToolUse is an assistant-issued tool invocation request. Input holds
// the fully assembled, parsed JSON value; InputJSON holds the raw text
// the streaming decoder accumulated before parsing (retained for
// diagnostics if parsing fails).
type ToolUse struct {
	CallID    string
	Name      string
	Input     json.RawMessage
	InputJSON string
}

func (ToolUse) isContentBlock() {}

// ToolResult pairs a ToolUse's CallID with its outcome content.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

func (ToolResult) isContentBlock() {}

// Thinking is an internal-reasoning content block, with an optional
// provider signature used to verify/replay the reasoning trace.
type Thinking struct {
	Text      string
	Signature string
}

func (Thinking) isContentBlock() {}

// Usage holds the token counters reported by the provider: input tokens
// from message_start and output tokens from message_delta.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Message is one entry in a conversation. Messages are built up
// incrementally by the stream decoder while "open" and become
// immutable once Finalize is called.
type Message struct {
	ID         string
	SessionID  string
	Role       Role
	CreatedAt  time.Time
	Model      string
	Blocks     []ContentBlock
	Usage      Usage
	StopReason StopReason
	finalized  bool
}

// New creates a fresh, not-yet-finalized message for the given session
// and role.
func New(sessionID string, role Role) *Message {
	return &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		CreatedAt: time.Now(),
	}
}

// AddBlock appends a content block. It panics if the message is already
// finalized — messages are immutable once finalized.
func (m *Message) AddBlock(b ContentBlock) {
	if m.finalized {
		panic("message: AddBlock called on a finalized message")
	}
	m.Blocks = append(m.Blocks, b)
}

// Finalize marks the message immutable and records its stop reason.
func (m *Message) Finalize(reason StopReason) {
	m.StopReason = reason
	m.finalized = true
}

// IsFinalized reports whether Finalize has been called.
func (m *Message) IsFinalized() bool {
	return m.finalized
}

// Text concatenates every Text block's content, in block order.
func (m *Message) Text() string {
	var out string
	for _, b := range m.Blocks {
		if t, ok := b.(Text); ok {
			out += t.Text
		}
	}
	return out
}

// ToolUses returns every ToolUse block in the message, in order.
func (m *Message) ToolUses() []ToolUse {
	var out []ToolUse
	for _, b := range m.Blocks {
		if tu, ok := b.(ToolUse); ok {
			out = append(out, tu)
		}
	}
	return out
}

// ToolResultMessage builds a role=tool Message carrying one ToolResult
// block, the shape the agent step loop appends to history after a
// dispatcher result.
func ToolResultMessage(sessionID, callID, content string, isError bool) *Message {
	m := New(sessionID, RoleTool)
	m.AddBlock(ToolResult{CallID: callID, Content: content, IsError: isError})
	m.Finalize(StopEndTurn)
	return m
}
