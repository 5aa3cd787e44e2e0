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

// Package session owns the root aggregate of one user interaction: its
// message history, its live agent handles, and the single mailbox that
// serializes every inbound control, user, tool-result, and
// permission-response message onto one consumer.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/loomcore/internal/cancel"
	"github.com/teradata-labs/loomcore/internal/config"
	"github.com/teradata-labs/loomcore/internal/csync"
	"github.com/teradata-labs/loomcore/internal/errs"
	"github.com/teradata-labs/loomcore/internal/eventbus"
	"github.com/teradata-labs/loomcore/internal/message"
)

// TodoStatus is the lifecycle state of a Todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is one item on an agent's working plan for a session.
type Todo struct {
	Content    string
	ActiveForm string
	Status     TodoStatus
}

// Info is the session's plain-data projection: the fields a listing,
// a persisted snapshot, or a UI status line needs, without the
// mailbox/locking machinery.
type Info struct {
	ID               string
	Title            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletionTokens int
	PromptTokens     int
	Cost             float64
	Todos            []Todo
	Model            string
	Provider         string
}

// Merge returns a copy of info with update's non-zero fields applied,
// so a partial cost/token update from the orchestrator never clobbers
// fields (Title, Todos) it didn't touch.
func (info Info) Merge(update Info) Info {
	result := info
	if update.CompletionTokens > 0 {
		result.CompletionTokens = update.CompletionTokens
	}
	if update.PromptTokens > 0 {
		result.PromptTokens = update.PromptTokens
	}
	if update.Cost > 0 {
		result.Cost = update.Cost
	}
	if update.Model != "" {
		result.Model = update.Model
	}
	if update.Provider != "" {
		result.Provider = update.Provider
	}
	if update.Title != "" {
		result.Title = update.Title
	}
	if !update.UpdatedAt.IsZero() {
		result.UpdatedAt = update.UpdatedAt
	}
	if len(update.Todos) > 0 {
		result.Todos = update.Todos
	}
	return result
}

// AgentHandle is the supervision surface a live agent exposes to its
// owning session; the agent package's Agent type implements this.
type AgentHandle interface {
	ID() string
	Token() *cancel.Token
	SetPaused(bool)
	Done() <-chan struct{}
	Err() error
}

// RunnableAgent is the supervision surface Spawn needs beyond
// AgentHandle: something that can run its own task to completion. The
// agent package's Agent type implements this in addition to AgentHandle.
type RunnableAgent interface {
	AgentHandle
	Run(ctx context.Context, prompt string) (*message.Message, error)
}

// ControlKind discriminates a Control mailbox message.
type ControlKind int

const (
	ControlPause ControlKind = iota
	ControlResume
	ControlCancel
	ControlUpdateConfig
)

// MsgKind discriminates a Message's payload, mirroring the tagged
// mailbox the orchestrator consumes.
type MsgKind int

const (
	MsgUserInput MsgKind = iota
	MsgToolResult
	MsgPermissionResponse
	MsgControl
)

// Message is one entry in a session's mailbox.
type Message struct {
	Kind MsgKind

	AgentID string

	Text       string           // MsgUserInput
	ToolResult *message.Message // MsgToolResult: a role=tool message

	Granted bool // MsgPermissionResponse

	Control   ControlKind    // MsgControl
	NewConfig *config.Config // MsgControl/UpdateConfig
}

// UserInput builds a MsgUserInput message.
func UserInput(agentID, text string) Message {
	return Message{Kind: MsgUserInput, AgentID: agentID, Text: text}
}

// ToolResultMsg builds a MsgToolResult message.
func ToolResultMsg(agentID string, result *message.Message) Message {
	return Message{Kind: MsgToolResult, AgentID: agentID, ToolResult: result}
}

// PermissionResponse builds a MsgPermissionResponse message.
func PermissionResponse(agentID string, granted bool) Message {
	return Message{Kind: MsgPermissionResponse, AgentID: agentID, Granted: granted}
}

// Pause builds a MsgControl/ControlPause message.
func Pause(agentID string) Message { return Message{Kind: MsgControl, AgentID: agentID, Control: ControlPause} }

// Resume builds a MsgControl/ControlResume message.
func Resume(agentID string) Message {
	return Message{Kind: MsgControl, AgentID: agentID, Control: ControlResume}
}

// Cancel builds a MsgControl/ControlCancel message.
func Cancel(agentID string) Message {
	return Message{Kind: MsgControl, AgentID: agentID, Control: ControlCancel}
}

// UpdateConfig builds a MsgControl/ControlUpdateConfig message.
func UpdateConfig(agentID string, cfg *config.Config) Message {
	return Message{Kind: MsgControl, AgentID: agentID, Control: ControlUpdateConfig, NewConfig: cfg}
}

// Sender is a cloneable handle producers use to enqueue mailbox
// messages; sending on a full mailbox blocks (backpressure) unless the
// caller's context is cancelled first.
type Sender struct {
	ch chan<- Message
}

// Send enqueues msg, blocking under backpressure until there is room
// or ctx is done.
func (s Sender) Send(ctx doneWaiter, msg Message) error {
	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doneWaiter is the subset of context.Context Send needs, kept narrow
// so callers can pass a cancel.Token's derived context interchangeably.
type doneWaiter interface {
	Done() <-chan struct{}
	Err() error
}

// Session is the root aggregate for one user interaction: one mailbox,
// the live agents spawned under it, and an append-only history.
type Session struct {
	info Info

	mu      sync.RWMutex
	history []*message.Message
	paused  map[string]bool

	agents *csync.Map[string, AgentHandle]

	mailbox chan Message
	token   *cancel.Token
	bus     *eventbus.Bus
	cfg     *config.Config
}

// New creates a session with a fresh mailbox and its own child
// cancellation token under root.
func New(root *cancel.Token, bus *eventbus.Bus, cfg *config.Config, title string) *Session {
	now := time.Now()
	s := &Session{
		info: Info{
			ID:        uuid.NewString(),
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		},
		paused:  make(map[string]bool),
		agents:  csync.NewMap[string, AgentHandle](),
		mailbox: make(chan Message, mailboxCapacity(cfg)),
		token:   root.Child(),
		bus:     bus,
		cfg:     cfg,
	}
	bus.Publish(eventbus.SessionStarted(s.info.ID))
	return s
}

func mailboxCapacity(cfg *config.Config) int {
	if cfg == nil || cfg.MailboxCapacity <= 0 {
		return 32
	}
	return cfg.MailboxCapacity
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.info.ID }

// Token returns the session's cancellation token; every agent spawned
// under this session derives from it.
func (s *Session) Token() *cancel.Token { return s.token }

// Sender returns a cloneable handle for enqueuing mailbox messages.
func (s *Session) Sender() Sender { return Sender{ch: s.mailbox} }

// Info returns a snapshot of the session's plain-data fields.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// ApplyUpdate merges update into the session's Info under lock.
func (s *Session) ApplyUpdate(update Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = s.info.Merge(update)
}

// History returns a snapshot of the append-only message history.
func (s *Session) History() []*message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*message.Message, len(s.history))
	copy(out, s.history)
	return out
}

// AppendHistory appends m to the history. History is append-only:
// callers never remove or reorder entries.
func (s *Session) AppendHistory(m *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, m)
	s.info.UpdatedAt = time.Now()
}

// RegisterAgent adds a live agent handle under this session.
func (s *Session) RegisterAgent(h AgentHandle) {
	s.agents.Set(h.ID(), h)
	s.bus.Publish(eventbus.AgentSpawned(s.info.ID, h.ID()))
}

// Spawn starts a's task on prompt in its own goroutine and supervises it
// to completion: a panic escaping Run is caught at this boundary and
// classified as errs.Fatal, so it terminates only a, never the session
// or its sibling agents. On any exit path (success, error, cancellation,
// or a recovered panic) a's handle is removed from the session's
// registry and AgentCompleted is published exactly once; a must not
// publish it itself. Spawn returns immediately; use a.Done() to wait.
func (s *Session) Spawn(ctx context.Context, a RunnableAgent, prompt string) {
	go func() {
		var runErr error
		defer func() {
			if r := recover(); r != nil {
				cause := fmt.Errorf("agent %s panicked: %v", a.ID(), r)
				runErr = errs.New(errs.KindFatal, cause.Error(), cause)
			}
			s.agents.Delete(a.ID())
			s.bus.Publish(eventbus.AgentCompleted(s.info.ID, a.ID(), runErr))
		}()
		_, runErr = a.Run(ctx, prompt)
	}()
}

// Agent looks up a live agent handle by id.
func (s *Session) Agent(agentID string) (AgentHandle, bool) {
	return s.agents.Get(agentID)
}

// IsPaused reports whether agentID's pause flag is currently set; the
// agent loop observes this at step boundaries (§4.4 pause/resume).
func (s *Session) IsPaused(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[agentID]
}

// Run is the orchestrator's loop: the sole consumer of the mailbox. It
// returns when ctx/the session token is cancelled or the mailbox is
// closed.
func (s *Session) Run(ctx doneWaiter) {
	for {
		select {
		case msg, ok := <-s.mailbox:
			if !ok {
				return
			}
			s.handle(msg)
		case <-s.token.Cancelled():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handle(msg Message) {
	switch msg.Kind {
	case MsgControl:
		s.handleControl(msg)
	case MsgToolResult:
		if msg.ToolResult != nil {
			s.AppendHistory(msg.ToolResult)
		}
	case MsgUserInput, MsgPermissionResponse:
		// Routed to the named agent's own input channel by the caller
		// that wires Session to a concrete agent implementation; the
		// orchestrator's role here is limited to bookkeeping.
	}
}

func (s *Session) handleControl(msg Message) {
	switch msg.Control {
	case ControlPause:
		s.mu.Lock()
		s.paused[msg.AgentID] = true
		s.mu.Unlock()
	case ControlResume:
		s.mu.Lock()
		s.paused[msg.AgentID] = false
		s.mu.Unlock()
	case ControlCancel:
		if h, ok := s.agents.Get(msg.AgentID); ok {
			h.Token().Cancel()
		}
	case ControlUpdateConfig:
		if msg.NewConfig != nil {
			s.mu.Lock()
			s.cfg = msg.NewConfig
			s.mu.Unlock()
		}
	}
	if h, ok := s.agents.Get(msg.AgentID); ok {
		h.SetPaused(s.IsPaused(msg.AgentID))
	}
}

// Config returns the session's current configuration reference. It may
// change between calls if a Control/UpdateConfig message was handled.
func (s *Session) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// End marks the session over: cancels its token and publishes
// SessionEnded. Live agents observe cancellation on their own tokens.
func (s *Session) End() {
	s.token.Cancel()
	s.bus.Publish(eventbus.SessionEnded(s.info.ID))
}
