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
package main

import (
	"context"
	"encoding/json"

	"github.com/teradata-labs/loomcore/internal/tool"
)

// echoTool is a minimal, always-allowed demonstration tool: it exists
// so this binary has at least one real tool round trip to exercise
// without requiring a sandboxed shell or filesystem tool to be wired
// in first.
type echoTool struct{}

var echoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"text": {"type": "string"}
	},
	"required": ["text"]
}`)

func (echoTool) Spec() tool.Spec {
	return tool.Spec{
		Name:        "echo",
		Description: "Repeats the given text back, useful for verifying the tool-call round trip.",
		RawSchema:   echoSchema,
		Mode:        tool.Parallel,
		ReadOnly:    true,
		DefaultRisk: "low",
	}
}

func (echoTool) CheckPermission(ctx context.Context, input json.RawMessage) (tool.Decision, error) {
	return tool.Decision{Kind: tool.Allow}, nil
}

func (echoTool) Execute(ctx context.Context, input json.RawMessage, progress tool.ProgressFunc) (tool.Result, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return tool.ErrorResult(err.Error(), ""), nil
	}
	return tool.TextResult(args.Text), nil
}
