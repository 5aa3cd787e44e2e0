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
	"encoding/json"
	"sync"
	"time"

	"github.com/teradata-labs/loomcore/internal/cancel"
)

// State is one stage of a call's pipeline:
// Pending -> Queued -> CheckingPermission -> {Denied | Running} ->
// {Success | Failed | Timeout | Cancelled}.
type State int

const (
	Pending State = iota
	Queued
	CheckingPermission
	Running
	Success
	FailedState
	TimedOut
	Cancelled
	Denied
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Queued:
		return "queued"
	case CheckingPermission:
		return "checking_permission"
	case Running:
		return "running"
	case Success:
		return "success"
	case FailedState:
		return "failed"
	case TimedOut:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	switch s {
	case Success, FailedState, TimedOut, Cancelled, Denied:
		return true
	default:
		return false
	}
}

// Call is one tool invocation moving through the dispatcher's pipeline.
// A Call is mutated only by the dispatcher goroutine that owns it.
type Call struct {
	ID    string
	Name  string
	Input json.RawMessage

	// Token is this call's own cancellation token, a child of the
	// batch's parent token. Expiring it (via timeout or parent
	// cancellation) interrupts the underlying Tool.Execute.
	Token *cancel.Token

	mu         sync.Mutex
	state      State
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
	result     Result
	err        error
	denyReason string
}

// NewCall constructs a pending call for the given request, deriving its
// cancellation token from parent.
func NewCall(id, name string, input json.RawMessage, parent *cancel.Token) *Call {
	return &Call{
		ID:    id,
		Name:  name,
		Input: input,
		Token: parent.Child(),
		state: Pending,
	}
}

func (c *Call) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State reports the call's current pipeline stage.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result reports the call's terminal result and error, valid only once
// State().Terminal() is true.
func (c *Call) Result() (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// Duration reports how long the call spent Running. Zero if it never
// reached Running.
func (c *Call) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	end := c.finishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(c.startedAt)
}
