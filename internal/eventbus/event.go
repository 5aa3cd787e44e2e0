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
	"errors"
	"time"

	"github.com/teradata-labs/loomcore/internal/message"
)

// ErrClosed is returned by Receiver.Recv once a closed receiver's
// backlog has fully drained.
var ErrClosed = errors.New("eventbus: receiver closed")

// Kind discriminates the shape of an Event's payload.
type Kind int

const (
	KindSessionStarted Kind = iota
	KindSessionEnded
	KindStreamConnected
	KindStreamDisconnected
	KindMessageStart
	KindContentBlockStart
	KindContentBlockDelta
	KindContentBlockStop
	KindMessageStop
	KindAgentSpawned
	KindAgentStateChanged
	KindAgentCompleted
	KindToolCallStart
	KindToolCallProgress
	KindToolCallComplete
	KindPermissionRequested
	KindPermissionGranted
	KindPermissionDenied
	KindError
	// KindLag is synthesized by a Receiver, never published directly: it
	// tells a subscriber how many events were dropped before it could
	// catch up.
	KindLag
)

func (k Kind) String() string {
	switch k {
	case KindSessionStarted:
		return "session_started"
	case KindSessionEnded:
		return "session_ended"
	case KindStreamConnected:
		return "stream_connected"
	case KindStreamDisconnected:
		return "stream_disconnected"
	case KindMessageStart:
		return "message_start"
	case KindContentBlockStart:
		return "content_block_start"
	case KindContentBlockDelta:
		return "content_block_delta"
	case KindContentBlockStop:
		return "content_block_stop"
	case KindMessageStop:
		return "message_stop"
	case KindAgentSpawned:
		return "agent_spawned"
	case KindAgentStateChanged:
		return "agent_state_changed"
	case KindAgentCompleted:
		return "agent_completed"
	case KindToolCallStart:
		return "tool_call_start"
	case KindToolCallProgress:
		return "tool_call_progress"
	case KindToolCallComplete:
		return "tool_call_complete"
	case KindPermissionRequested:
		return "permission_requested"
	case KindPermissionGranted:
		return "permission_granted"
	case KindPermissionDenied:
		return "permission_denied"
	case KindError:
		return "error"
	case KindLag:
		return "lag"
	default:
		return "unknown"
	}
}

// DeltaKind further discriminates a KindContentBlockDelta event's Text
// payload, since text-delta, input-json-delta and thinking-delta all
// carry incremental text but mean different things to a consumer
// reassembling a block.
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaInputJSON
	DeltaThinking
)

// Event is the single value type carried by the bus. It is a tagged
// union over Kind: only the fields relevant to that Kind are populated.
// Event values are cheap to copy and must never be mutated after
// Publish — the bus hands the same value to every subscriber.
type Event struct {
	Kind Kind
	Time time.Time

	SessionID  string
	AgentID    string
	ToolCallID string

	// BlockIndex identifies which content block a content_block_* or
	// message_delta/stop event concerns.
	BlockIndex int
	DeltaKind  DeltaKind
	Text       string // incremental text for *_delta events

	Role       message.Role
	StopReason message.StopReason
	Usage      message.Usage

	AgentState string // free-form state label for AgentStateChanged
	ToolName   string
	Progress   string // free-form progress description

	PermissionID string
	RiskLevel    string

	Err error

	// Missed is populated only on a synthesized KindLag event: the
	// number of events this subscriber failed to observe.
	Missed int64
}

// SessionStarted builds a KindSessionStarted event.
func SessionStarted(sessionID string) Event {
	return Event{Kind: KindSessionStarted, Time: time.Now(), SessionID: sessionID}
}

// SessionEnded builds a KindSessionEnded event.
func SessionEnded(sessionID string) Event {
	return Event{Kind: KindSessionEnded, Time: time.Now(), SessionID: sessionID}
}

// StreamConnected builds a KindStreamConnected event.
func StreamConnected(sessionID, agentID string) Event {
	return Event{Kind: KindStreamConnected, Time: time.Now(), SessionID: sessionID, AgentID: agentID}
}

// StreamDisconnected builds a KindStreamDisconnected event.
func StreamDisconnected(sessionID, agentID string, err error) Event {
	return Event{Kind: KindStreamDisconnected, Time: time.Now(), SessionID: sessionID, AgentID: agentID, Err: err}
}

// MessageStart builds a KindMessageStart event.
func MessageStart(sessionID, agentID string, role message.Role) Event {
	return Event{Kind: KindMessageStart, Time: time.Now(), SessionID: sessionID, AgentID: agentID, Role: role}
}

// ContentBlockStart builds a KindContentBlockStart event.
func ContentBlockStart(sessionID, agentID string, index int) Event {
	return Event{Kind: KindContentBlockStart, Time: time.Now(), SessionID: sessionID, AgentID: agentID, BlockIndex: index}
}

// ContentBlockDelta builds a KindContentBlockDelta event carrying
// incremental text of the given DeltaKind.
func ContentBlockDelta(sessionID, agentID string, index int, dk DeltaKind, text string) Event {
	return Event{
		Kind: KindContentBlockDelta, Time: time.Now(),
		SessionID: sessionID, AgentID: agentID,
		BlockIndex: index, DeltaKind: dk, Text: text,
	}
}

// ContentBlockStop builds a KindContentBlockStop event.
func ContentBlockStop(sessionID, agentID string, index int) Event {
	return Event{Kind: KindContentBlockStop, Time: time.Now(), SessionID: sessionID, AgentID: agentID, BlockIndex: index}
}

// MessageStop builds a KindMessageStop event.
func MessageStop(sessionID, agentID string, reason message.StopReason, usage message.Usage) Event {
	return Event{
		Kind: KindMessageStop, Time: time.Now(),
		SessionID: sessionID, AgentID: agentID,
		StopReason: reason, Usage: usage,
	}
}

// AgentSpawned builds a KindAgentSpawned event.
func AgentSpawned(sessionID, agentID string) Event {
	return Event{Kind: KindAgentSpawned, Time: time.Now(), SessionID: sessionID, AgentID: agentID}
}

// AgentStateChanged builds a KindAgentStateChanged event.
func AgentStateChanged(sessionID, agentID, state string) Event {
	return Event{Kind: KindAgentStateChanged, Time: time.Now(), SessionID: sessionID, AgentID: agentID, AgentState: state}
}

// AgentCompleted builds a KindAgentCompleted event.
func AgentCompleted(sessionID, agentID string, err error) Event {
	return Event{Kind: KindAgentCompleted, Time: time.Now(), SessionID: sessionID, AgentID: agentID, Err: err}
}

// ToolCallStart builds a KindToolCallStart event.
func ToolCallStart(sessionID, agentID, toolCallID, toolName string) Event {
	return Event{
		Kind: KindToolCallStart, Time: time.Now(),
		SessionID: sessionID, AgentID: agentID, ToolCallID: toolCallID, ToolName: toolName,
	}
}

// ToolCallProgress builds a KindToolCallProgress event.
func ToolCallProgress(sessionID, agentID, toolCallID, progress string) Event {
	return Event{
		Kind: KindToolCallProgress, Time: time.Now(),
		SessionID: sessionID, AgentID: agentID, ToolCallID: toolCallID, Progress: progress,
	}
}

// ToolCallComplete builds a KindToolCallComplete event.
func ToolCallComplete(sessionID, agentID, toolCallID string, err error) Event {
	return Event{
		Kind: KindToolCallComplete, Time: time.Now(),
		SessionID: sessionID, AgentID: agentID, ToolCallID: toolCallID, Err: err,
	}
}

// PermissionRequested builds a KindPermissionRequested event.
func PermissionRequested(sessionID, agentID, permissionID, toolName, riskLevel string) Event {
	return Event{
		Kind: KindPermissionRequested, Time: time.Now(),
		SessionID: sessionID, AgentID: agentID,
		PermissionID: permissionID, ToolName: toolName, RiskLevel: riskLevel,
	}
}

// PermissionGranted builds a KindPermissionGranted event.
func PermissionGranted(sessionID, agentID, permissionID string) Event {
	return Event{Kind: KindPermissionGranted, Time: time.Now(), SessionID: sessionID, AgentID: agentID, PermissionID: permissionID}
}

// PermissionDenied builds a KindPermissionDenied event.
func PermissionDenied(sessionID, agentID, permissionID string) Event {
	return Event{Kind: KindPermissionDenied, Time: time.Now(), SessionID: sessionID, AgentID: agentID, PermissionID: permissionID}
}

// ErrorEvent builds a KindError event carrying a causal error and the
// context it occurred in.
func ErrorEvent(sessionID, agentID string, err error) Event {
	return Event{Kind: KindError, Time: time.Now(), SessionID: sessionID, AgentID: agentID, Err: err}
}
