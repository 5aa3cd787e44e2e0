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

// Package bedrockprovider implements llm.Client against AWS Bedrock's
// Converse API. Streaming is intentionally not supported: Bedrock's
// ConverseStream cannot serialize tool input schemas through
// document.NewLazyDocument without dropping them to an empty object,
// so every call — streaming or not — goes through the blocking
// Converse operation and Capabilities().Streaming reports false.
package bedrockprovider

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/teradata-labs/loomcore/internal/csync"
	"github.com/teradata-labs/loomcore/internal/errs"
	"github.com/teradata-labs/loomcore/internal/eventbus"
	"github.com/teradata-labs/loomcore/internal/llm"
	"github.com/teradata-labs/loomcore/internal/message"
)

const (
	DefaultModelID   = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	DefaultRegion    = "us-west-2"
	DefaultMaxTokens = 4096
)

// converseAPI is the subset of *bedrockruntime.Client this package
// calls, narrowed so tests can substitute a fake.
type converseAPI interface {
	Converse(ctx context.Context, input *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements llm.Client against AWS Bedrock.
type Client struct {
	api         converseAPI
	modelID     string
	maxTokens   int32
	temperature float32
	maxContext  int

	// toolNameMap recovers a tool's original name from the sanitized
	// form Bedrock requires (^[a-zA-Z0-9_-]{1,64}$). It is one map shared
	// by every request on this Client, keyed by the sanitized name.
	toolNameMap *csync.Map[string, string]
}

// Config configures a Client.
type Config struct {
	Region           string
	ModelID          string
	MaxTokens        int
	Temperature      float64
	MaxContextLength int
}

// New constructs a Client, loading AWS credentials from the default
// chain (env vars, shared config, IAM role) for the given region.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 1.0
	}
	if cfg.MaxContextLength == 0 {
		cfg.MaxContextLength = 200000
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrockprovider: loading AWS config: %w", err)
	}

	return &Client{
		api:         bedrockruntime.NewFromConfig(awsCfg),
		modelID:     cfg.ModelID,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
		maxContext:  cfg.MaxContextLength,
		toolNameMap: csync.NewMap[string, string](),
	}, nil
}

// Capabilities reports Streaming == false; see the package comment.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: false, Tools: true, Vision: true, Thinking: false, JSONMode: false}
}

// MaxContextLength reports the configured model's context window.
func (c *Client) MaxContextLength() int { return c.maxContext }

// Chat sends req through the Converse API and blocks for the response.
func (c *Client) Chat(ctx context.Context, req llm.Request) (*message.Message, error) {
	systemBlocks, converseMessages := c.toConverseMessages(req.Messages)
	if len(converseMessages) == 0 {
		return nil, errs.Validation("bedrockprovider: no messages to send", nil)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.modelID),
		Messages: converseMessages,
		InferenceConfig: &bedrocktypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(firstNonZero32(int32(req.MaxTokens), c.maxTokens)),
			Temperature: aws.Float32(c.temperature),
		},
	}
	if len(systemBlocks) > 0 {
		input.System = systemBlocks
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = c.toConverseTools(req.Tools)
	}

	output, err := c.api.Converse(ctx, input)
	if err != nil {
		return nil, errs.Classify(err)
	}

	return c.fromConverseOutput(req.SessionID, output), nil
}

// ChatStream delegates to Chat; see the package comment for why.
func (c *Client) ChatStream(ctx context.Context, req llm.Request, bus *eventbus.Bus) (*message.Message, error) {
	bus.Publish(eventbus.StreamConnected(req.SessionID, req.AgentID))
	msg, err := c.Chat(ctx, req)
	if err != nil {
		bus.Publish(eventbus.ErrorEvent(req.SessionID, req.AgentID, err))
		return nil, err
	}
	bus.Publish(eventbus.MessageStop(req.SessionID, req.AgentID, msg.StopReason, msg.Usage))
	return msg, nil
}

// CountTokens calls no Bedrock-side counting endpoint; it returns a local
// estimate of one token per four characters of each message's text.
func (c *Client) CountTokens(ctx context.Context, messages []*message.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += len(m.Text()) / 4
	}
	return total, nil
}

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func sanitizeToolName(name string) string {
	s := sanitizeRe.ReplaceAllString(name, "_")
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

func firstNonZero32(a, b int32) int32 {
	if a != 0 {
		return a
	}
	return b
}
