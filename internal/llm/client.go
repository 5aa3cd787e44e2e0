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

// Package llm defines the provider-agnostic contract the agent step
// loop depends on, plus a shared retry helper (ChatWithRetry) that the
// step loop wraps around any concrete provider's Chat. Concrete
// providers live in their own subpackages; this package never imports
// either one.
package llm

import (
	"context"
	"encoding/json"

	"github.com/teradata-labs/loomcore/internal/eventbus"
	"github.com/teradata-labs/loomcore/internal/message"
)

// ToolDeclaration is a tool's name, description, and input schema as
// sent to the provider, distinct from tool.Spec which additionally
// carries the dispatcher's own scheduling metadata.
type ToolDeclaration struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is one turn's worth of input to a provider.
type Request struct {
	SessionID   string
	AgentID     string
	System      string
	Messages    []*message.Message
	Tools       []ToolDeclaration
	MaxTokens   int
	Temperature float64
}

// Capabilities reports what a provider supports, so the agent loop can
// branch (e.g. fall back to non-streaming Chat when Streaming is
// false) without a type switch on the concrete client.
type Capabilities struct {
	Streaming bool
	Tools     bool
	Vision    bool
	Thinking  bool
	JSONMode  bool
}

// Client is the contract the agent step loop depends on. Concrete
// implementations live in anthropicprovider and bedrockprovider.
type Client interface {
	// Chat blocks until the provider returns a complete response.
	Chat(ctx context.Context, req Request) (*message.Message, error)

	// ChatStream streams the response, publishing every content-block
	// delta on bus as it arrives, and returns the fully assembled
	// message once the stream completes. Callers whose Capabilities()
	// report Streaming == false must use Chat instead.
	ChatStream(ctx context.Context, req Request, bus *eventbus.Bus) (*message.Message, error)

	// CountTokens estimates the token cost of messages under this
	// provider's tokenizer.
	CountTokens(ctx context.Context, messages []*message.Message) (int, error)

	// MaxContextLength reports the provider/model's context window, in
	// tokens.
	MaxContextLength() int

	// Capabilities reports what this client supports.
	Capabilities() Capabilities
}
