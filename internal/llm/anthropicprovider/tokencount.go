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
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teradata-labs/loomcore/internal/message"
)

// cl100kBase is the closest open encoding to Claude's own tokenizer;
// Anthropic does not publish one, so every provider in this position
// estimates rather than counts exactly.
const cl100kBase = "cl100k_base"

// Count estimates the token cost of msgs. model is accepted for a
// future per-model encoding table but is currently unused beyond
// surfacing in error messages.
func Count(model string, msgs []*message.Message) (int, error) {
	enc, err := tiktoken.GetEncoding(cl100kBase)
	if err != nil {
		return 0, fmt.Errorf("anthropicprovider: loading tokenizer for %s: %w", model, err)
	}

	total := 0
	for _, m := range msgs {
		for _, b := range m.Blocks {
			switch v := b.(type) {
			case message.Text:
				total += len(enc.Encode(v.Text, nil, nil))
			case message.ToolUse:
				total += len(enc.Encode(v.InputJSON, nil, nil))
			case message.ToolResult:
				total += len(enc.Encode(v.Content, nil, nil))
			case message.Thinking:
				total += len(enc.Encode(v.Text, nil, nil))
			}
		}
		total += 4 // per-message role/formatting overhead
	}
	return total, nil
}
