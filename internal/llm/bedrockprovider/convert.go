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

package bedrockprovider

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/teradata-labs/loomcore/internal/llm"
	"github.com/teradata-labs/loomcore/internal/message"
)

// toConverseMessages converts our conversation history into Bedrock's
// Converse shapes. Consecutive tool-result messages must be merged
// into a single user-role message — Bedrock rejects a turn's tool
// results split across multiple messages.
func (c *Client) toConverseMessages(msgs []*message.Message) ([]bedrocktypes.SystemContentBlock, []bedrocktypes.Message) {
	var systemBlocks []bedrocktypes.SystemContentBlock
	var out []bedrocktypes.Message
	var pendingResults []bedrocktypes.ContentBlock

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, bedrocktypes.Message{Role: bedrocktypes.ConversationRoleUser, Content: pendingResults})
			pendingResults = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			if text := m.Text(); text != "" {
				systemBlocks = append(systemBlocks, &bedrocktypes.SystemContentBlockMemberText{Value: text})
			}
		case message.RoleTool:
			for _, b := range m.Blocks {
				tr, ok := b.(message.ToolResult)
				if !ok {
					continue
				}
				pendingResults = append(pendingResults, &bedrocktypes.ContentBlockMemberToolResult{
					Value: bedrocktypes.ToolResultBlock{
						ToolUseId: aws.String(tr.CallID),
						Content: []bedrocktypes.ToolResultContentBlock{
							&bedrocktypes.ToolResultContentBlockMemberText{Value: tr.Content},
						},
						Status: toolResultStatus(tr.IsError),
					},
				})
			}
		case message.RoleAssistant:
			flush()
			blocks := c.assistantContentBlocks(m)
			if len(blocks) > 0 {
				out = append(out, bedrocktypes.Message{Role: bedrocktypes.ConversationRoleAssistant, Content: blocks})
			}
		default: // RoleUser
			flush()
			blocks := userContentBlocks(m)
			if len(blocks) > 0 {
				out = append(out, bedrocktypes.Message{Role: bedrocktypes.ConversationRoleUser, Content: blocks})
			}
		}
	}
	flush()

	return systemBlocks, out
}

func userContentBlocks(m *message.Message) []bedrocktypes.ContentBlock {
	var blocks []bedrocktypes.ContentBlock
	for _, b := range m.Blocks {
		switch v := b.(type) {
		case message.Text:
			blocks = append(blocks, &bedrocktypes.ContentBlockMemberText{Value: v.Text})
		case message.Image:
			blocks = append(blocks, &bedrocktypes.ContentBlockMemberImage{
				Value: bedrocktypes.ImageBlock{
					Format: bedrocktypes.ImageFormat(imageSubtype(v.MediaType)),
					Source: &bedrocktypes.ImageSourceMemberBytes{Value: v.Data},
				},
			})
		}
	}
	return blocks
}

func (c *Client) assistantContentBlocks(m *message.Message) []bedrocktypes.ContentBlock {
	var blocks []bedrocktypes.ContentBlock
	for _, b := range m.Blocks {
		switch v := b.(type) {
		case message.Text:
			blocks = append(blocks, &bedrocktypes.ContentBlockMemberText{Value: v.Text})
		case message.ToolUse:
			sanitized := sanitizeToolName(v.Name)
			c.toolNameMap.Set(sanitized, v.Name)

			var input any = map[string]any{}
			if len(v.Input) > 0 {
				_ = json.Unmarshal(v.Input, &input)
			}
			blocks = append(blocks, &bedrocktypes.ContentBlockMemberToolUse{
				Value: bedrocktypes.ToolUseBlock{
					ToolUseId: aws.String(v.CallID),
					Name:      aws.String(sanitized),
					Input:     document.NewLazyDocument(input),
				},
			})
		}
	}
	return blocks
}

func toolResultStatus(isError bool) bedrocktypes.ToolResultStatus {
	if isError {
		return bedrocktypes.ToolResultStatusError
	}
	return bedrocktypes.ToolResultStatusSuccess
}

func imageSubtype(mediaType string) string {
	for i := len(mediaType) - 1; i >= 0; i-- {
		if mediaType[i] == '/' {
			return mediaType[i+1:]
		}
	}
	return mediaType
}

// toConverseTools converts tool declarations into a ToolConfiguration,
// recording the sanitized-to-original name mapping needed to translate
// tool_use blocks back in fromConverseOutput.
func (c *Client) toConverseTools(tools []llm.ToolDeclaration) *bedrocktypes.ToolConfiguration {
	converseTools := make([]bedrocktypes.Tool, 0, len(tools))
	for _, td := range tools {
		sanitized := sanitizeToolName(td.Name)
		c.toolNameMap.Set(sanitized, td.Name)

		var schemaDoc any
		_ = json.Unmarshal(td.InputSchema, &schemaDoc)

		converseTools = append(converseTools, &bedrocktypes.ToolMemberToolSpec{
			Value: bedrocktypes.ToolSpecification{
				Name:        aws.String(sanitized),
				Description: aws.String(td.Description),
				InputSchema: &bedrocktypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		})
	}
	return &bedrocktypes.ToolConfiguration{Tools: converseTools}
}

// fromConverseOutput converts a Converse response into our Message
// type, mapping sanitized tool names back to their original form.
func (c *Client) fromConverseOutput(sessionID string, output *bedrockruntime.ConverseOutput) *message.Message {
	m := message.New(sessionID, message.RoleAssistant)
	m.Model = c.modelID

	if output.Usage != nil {
		m.Usage = message.Usage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
		}
	}

	if memberMsg, ok := output.Output.(*bedrocktypes.ConverseOutputMemberMessage); ok {
		for _, block := range memberMsg.Value.Content {
			switch v := block.(type) {
			case *bedrocktypes.ContentBlockMemberText:
				m.AddBlock(message.Text{Text: v.Value})
			case *bedrocktypes.ContentBlockMemberToolUse:
				name := aws.ToString(v.Value.Name)
				if original, ok := c.toolNameMap.Get(name); ok {
					name = original
				}
				raw, _ := json.Marshal(v.Value.Input)
				m.AddBlock(message.ToolUse{
					CallID:    aws.ToString(v.Value.ToolUseId),
					Name:      name,
					Input:     raw,
					InputJSON: string(raw),
				})
			}
		}
	}

	m.Finalize(mapConverseStopReason(string(output.StopReason)))
	return m
}

func mapConverseStopReason(reason string) message.StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return message.StopEndTurn
	case "tool_use":
		return message.StopToolUse
	case "max_tokens":
		return message.StopMaxTokens
	default:
		return message.StopEndTurn
	}
}
