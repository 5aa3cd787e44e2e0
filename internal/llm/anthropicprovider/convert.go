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

package anthropicprovider

import (
	"encoding/base64"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/teradata-labs/loomcore/internal/llm"
	"github.com/teradata-labs/loomcore/internal/message"
)

// toSDKMessages converts our conversation history into the SDK's
// typed MessageParam slice for the non-streaming Chat path.
func toSDKMessages(msgs []*message.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			switch v := b.(type) {
			case message.Text:
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			case message.ToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(v.CallID, v.Input, v.Name))
			case message.ToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(v.CallID, v.Content, v.IsError))
			case message.Image:
				blocks = append(blocks, anthropic.NewImageBlockBase64(v.MediaType, base64.StdEncoding.EncodeToString(v.Data)))
			case message.Thinking:
				// Thinking blocks are provider output, never replayed as
				// input; the SDK has no request-side constructor for them.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == message.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// toSDKTool converts one tool declaration into the SDK's tool param
// shape, including the union wrapper the Messages API expects.
func toSDKTool(td llm.ToolDeclaration) anthropic.ToolUnionParam {
	var schema anthropic.ToolInputSchemaParam
	_ = json.Unmarshal(td.InputSchema, &schema)
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        td.Name,
			Description: anthropic.String(td.Description),
			InputSchema: schema,
		},
	}
}

// fromSDKMessage converts an SDK response into our own Message type, so
// the rest of the runtime never imports anthropic-sdk-go types directly.
func fromSDKMessage(sessionID string, resp *anthropic.Message) *message.Message {
	m := message.New(sessionID, message.RoleAssistant)
	m.Model = string(resp.Model)
	m.Usage = message.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}

	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			m.AddBlock(message.Text{Text: v.Text})
		case anthropic.ToolUseBlock:
			raw, _ := v.Input.MarshalJSON()
			m.AddBlock(message.ToolUse{CallID: v.ID, Name: v.Name, Input: raw, InputJSON: string(raw)})
		case anthropic.ThinkingBlock:
			m.AddBlock(message.Thinking{Text: v.Thinking, Signature: v.Signature})
		}
	}

	m.Finalize(mapSDKStopReason(string(resp.StopReason)))
	return m
}

func mapSDKStopReason(reason string) message.StopReason {
	switch reason {
	case "end_turn":
		return message.StopEndTurn
	case "tool_use":
		return message.StopToolUse
	case "max_tokens":
		return message.StopMaxTokens
	case "stop_sequence":
		return message.StopStopSequence
	default:
		return message.StopEndTurn
	}
}

// rawRequest mirrors the Messages API's JSON wire shape for the
// streaming path, where the raw bytes (not the SDK's request struct)
// are what gets sent so the response body can be decoded by
// internal/stream without going through the SDK's own event iterator.
type rawRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
	System      string       `json:"system,omitempty"`
	Messages    []rawMessage `json:"messages"`
	Tools       []rawTool    `json:"tools,omitempty"`
}

type rawMessage struct {
	Role    string       `json:"role"`
	Content []rawContent `json:"content"`
}

type rawContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *rawImageSource `json:"source,omitempty"`
}

type rawImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type rawTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func toRawMessages(msgs []*message.Message) []rawMessage {
	out := make([]rawMessage, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == message.RoleAssistant {
			role = "assistant"
		}
		var content []rawContent
		for _, b := range m.Blocks {
			switch v := b.(type) {
			case message.Text:
				content = append(content, rawContent{Type: "text", Text: v.Text})
			case message.ToolUse:
				content = append(content, rawContent{Type: "tool_use", ID: v.CallID, Name: v.Name, Input: v.Input})
			case message.ToolResult:
				content = append(content, rawContent{Type: "tool_result", ToolUseID: v.CallID, Content: v.Content, IsError: v.IsError})
			case message.Image:
				content = append(content, rawContent{
					Type: "image",
					Source: &rawImageSource{
						Type:      "base64",
						MediaType: v.MediaType,
						Data:      base64.StdEncoding.EncodeToString(v.Data),
					},
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, rawMessage{Role: role, Content: content})
	}
	return out
}
