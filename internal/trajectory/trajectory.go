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

// Package trajectory appends one newline-delimited JSON record per
// task-execution event to an io.Writer the caller owns. Rotation and
// placement on disk are the caller's responsibility; this package only
// serializes.
package trajectory

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EntryType discriminates an Entry's Data payload.
type EntryType string

const (
	TaskStart     EntryType = "task_start"
	LLMRequest    EntryType = "llm_request"
	LLMResponse   EntryType = "llm_response"
	ToolExecution EntryType = "tool_execution"
	TaskComplete  EntryType = "task_complete"
	ErrorEntry    EntryType = "error"
)

// Entry is one append-only trajectory record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	Type      EntryType `json:"entry_type"`
	Data      any       `json:"data"`
}

// TaskStartData is the Data payload for a TaskStart entry.
type TaskStartData struct {
	Description string `json:"description"`
	AgentID     string `json:"agent_id"`
	AgentKind   string `json:"agent_kind"`
}

// LLMRequestData is the Data payload for an LLMRequest entry.
type LLMRequestData struct {
	Step         int    `json:"step"`
	Model        string `json:"model"`
	MessageCount int    `json:"message_count"`
}

// LLMResponseData is the Data payload for an LLMResponse entry.
type LLMResponseData struct {
	Step         int    `json:"step"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ToolExecutionData is the Data payload for a ToolExecution entry.
type ToolExecutionData struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	State    string `json:"state"`
	Duration string `json:"duration"`
}

// TaskCompleteData is the Data payload for a TaskComplete entry.
type TaskCompleteData struct {
	Steps  int    `json:"steps"`
	Result string `json:"result"`
}

// ErrorData is the Data payload for an Error entry.
type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Writer serializes Entry values as NDJSON to an underlying io.Writer.
// Writer is safe for concurrent use: multiple goroutines may append
// without interleaving partial lines.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter wraps w. w is never closed by Writer; the caller owns its
// lifecycle (rotation, closing the underlying file).
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Append writes one entry, stamping Timestamp with now if it is zero.
func (w *Writer) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(e)
}

// TaskStartEntry builds a TaskStart entry for taskID.
func TaskStartEntry(taskID, description, agentID, agentKind string) Entry {
	return Entry{TaskID: taskID, Type: TaskStart, Data: TaskStartData{
		Description: description, AgentID: agentID, AgentKind: agentKind,
	}}
}

// LLMRequestEntry builds an LLMRequest entry for taskID.
func LLMRequestEntry(taskID string, step int, model string, messageCount int) Entry {
	return Entry{TaskID: taskID, Type: LLMRequest, Data: LLMRequestData{
		Step: step, Model: model, MessageCount: messageCount,
	}}
}

// LLMResponseEntry builds an LLMResponse entry for taskID.
func LLMResponseEntry(taskID string, step int, stopReason string, inputTokens, outputTokens int) Entry {
	return Entry{TaskID: taskID, Type: LLMResponse, Data: LLMResponseData{
		Step: step, StopReason: stopReason, InputTokens: inputTokens, OutputTokens: outputTokens,
	}}
}

// ToolExecutionEntry builds a ToolExecution entry for taskID.
func ToolExecutionEntry(taskID, callID, toolName, state string, duration time.Duration) Entry {
	return Entry{TaskID: taskID, Type: ToolExecution, Data: ToolExecutionData{
		CallID: callID, ToolName: toolName, State: state, Duration: duration.String(),
	}}
}

// TaskCompleteEntry builds a TaskComplete entry for taskID.
func TaskCompleteEntry(taskID string, steps int, result string) Entry {
	return Entry{TaskID: taskID, Type: TaskComplete, Data: TaskCompleteData{Steps: steps, Result: result}}
}

// ErrorEntryFor builds an Error entry for taskID.
func ErrorEntryFor(taskID, kind, msg string) Entry {
	return Entry{TaskID: taskID, Type: ErrorEntry, Data: ErrorData{Kind: kind, Message: msg}}
}
