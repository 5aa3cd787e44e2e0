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

// Package permission tracks pending and resolved permission requests
// for risky tool calls and resolves a dispatcher's Ask decisions by
// blocking until a human grants or denies the request, or the caller's
// context is done. Requests carry no timeout of their own.
package permission

import (
	"context"
	"sync"
	"time"

	"github.com/teradata-labs/loomcore/internal/eventbus"
	"github.com/teradata-labs/loomcore/internal/tool"
)

// Request describes one pending permission check.
type Request struct {
	ID         string
	SessionID  string
	AgentID    string
	ToolName   string
	ToolCallID string
	Question   string
	RiskLevel  string
	CreatedAt  time.Time
}

// DeniedError describes a denied permission request. Resolve does not
// return it; a denial comes back as a Decision of Kind tool.Deny.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return "permission denied"
	}
	return "permission denied: " + e.Reason
}

type pending struct {
	req    Request
	result chan tool.Decision
}

// Service tracks in-flight permission requests and publishes their
// lifecycle on an eventbus.Bus so a UI or CLI front-end can surface
// them without polling. It implements tool.PermissionResolver.
//
// Service is the sole publisher of PermissionRequested, -Granted, and
// -Denied events: every pending request is keyed by the tool call ID
// the dispatcher passes into Resolve, the same ID ToolCallStart/
// ToolCallComplete carry, so a subscriber can pair a request with its
// resolution and with the call it gated without a second, uncorrelated
// ID scheme.
type Service struct {
	mu               sync.Mutex
	bus              *eventbus.Bus
	pendingRequests  map[string]*pending
	persistentGrants map[string]bool // toolName -> granted for the whole session
	autoApprove      map[string]bool // sessionID -> skip all prompts
}

// New constructs a Service publishing lifecycle events on bus.
func New(bus *eventbus.Bus) *Service {
	return &Service{
		bus:              bus,
		pendingRequests:  make(map[string]*pending),
		persistentGrants: make(map[string]bool),
		autoApprove:      make(map[string]bool),
	}
}

// AutoApproveSession marks sessionID so every subsequent Ask for it is
// granted without a round trip, used for unattended/CI runs.
func (s *Service) AutoApproveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoApprove[sessionID] = true
}

// Resolve implements tool.PermissionResolver. It registers a pending
// request keyed by callID, publishes PermissionRequested, and blocks
// until Grant/Deny is called with that same ID or ctx is cancelled.
func (s *Service) Resolve(ctx context.Context, sessionID, agentID, callID, toolName, question string) (tool.Decision, error) {
	s.mu.Lock()
	if s.autoApprove[sessionID] || s.persistentGrants[toolName] {
		s.mu.Unlock()
		return tool.Decision{Kind: tool.Allow}, nil
	}

	p := &pending{
		req: Request{
			ID: callID, SessionID: sessionID, AgentID: agentID,
			ToolName: toolName, ToolCallID: callID, Question: question, CreatedAt: time.Now(),
		},
		result: make(chan tool.Decision, 1),
	}
	s.pendingRequests[callID] = p
	s.mu.Unlock()

	s.bus.Publish(eventbus.PermissionRequested(sessionID, agentID, callID, toolName, ""))

	select {
	case dec := <-p.result:
		return dec, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pendingRequests, callID)
		s.mu.Unlock()
		return tool.Decision{}, ctx.Err()
	}
}

// Grant resolves a pending request with Allow, once for this call.
func (s *Service) Grant(requestID string) {
	s.resolve(requestID, tool.Decision{Kind: tool.Allow}, false)
}

// GrantPersistent resolves a pending request with Allow and remembers
// the grant for every future request naming the same tool, in any
// session, until the process restarts.
func (s *Service) GrantPersistent(requestID, toolName string) {
	s.mu.Lock()
	s.persistentGrants[toolName] = true
	s.mu.Unlock()
	s.resolve(requestID, tool.Decision{Kind: tool.Allow}, true)
}

// Deny resolves a pending request with Deny.
func (s *Service) Deny(requestID, reason string) {
	s.resolve(requestID, tool.Decision{Kind: tool.Deny, Reason: reason}, false)
}

func (s *Service) resolve(requestID string, dec tool.Decision, persistent bool) {
	s.mu.Lock()
	p, ok := s.pendingRequests[requestID]
	if ok {
		delete(s.pendingRequests, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if dec.Kind == tool.Allow {
		s.bus.Publish(eventbus.PermissionGranted(p.req.SessionID, p.req.AgentID, requestID))
	} else {
		s.bus.Publish(eventbus.PermissionDenied(p.req.SessionID, p.req.AgentID, requestID))
	}
	p.result <- dec
}

// Pending returns a snapshot of every currently outstanding request.
func (s *Service) Pending() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, 0, len(s.pendingRequests))
	for _, p := range s.pendingRequests {
		out = append(out, p.req)
	}
	return out
}

var _ tool.PermissionResolver = (*Service)(nil)
