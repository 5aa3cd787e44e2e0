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

// Package anthropicprovider implements llm.Client against Anthropic's
// Messages API: the non-streaming path goes through the official SDK,
// while the streaming path keeps a raw net/http request so the
// response body can be handed, byte for byte, to our own SSE decoder
// (the teacher's own client, pkg/llm/anthropic/client.go, takes the
// same raw-HTTP approach for exactly this reason).
package anthropicprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/teradata-labs/loomcore/internal/cancel"
	"github.com/teradata-labs/loomcore/internal/errs"
	"github.com/teradata-labs/loomcore/internal/eventbus"
	"github.com/teradata-labs/loomcore/internal/llm"
	"github.com/teradata-labs/loomcore/internal/message"
	"github.com/teradata-labs/loomcore/internal/stream"
)

const (
	DefaultModel        = "claude-sonnet-4-5"
	DefaultEndpoint     = "https://api.anthropic.com/v1/messages"
	DefaultMaxTokens    = 4096
	anthropicAPIVersion = "2023-06-01"
	anthropicVersionHdr = "anthropic-version"
)

// Client implements llm.Client against Anthropic's Messages API.
type Client struct {
	sdk      anthropic.Client
	http     *http.Client
	apiKey   string
	endpoint string
	model    string

	maxTokens   int
	temperature float64
	maxContext  int
}

// Config configures a Client.
type Config struct {
	APIKey            string
	Model             string
	Endpoint          string
	MaxTokens         int
	Temperature       float64
	MaxContextLength  int
	ConnectionTimeout time.Duration
	RequestTimeout    time.Duration
}

// New constructs a Client, applying defaults for any zero-valued Config field.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
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
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	return &Client{
		sdk:         anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		http:        &http.Client{Timeout: cfg.RequestTimeout},
		apiKey:      cfg.APIKey,
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxContext:  cfg.MaxContextLength,
	}
}

// Capabilities reports full support: Anthropic's Messages API streams,
// calls tools, accepts images, and exposes extended thinking.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: true, Tools: true, Vision: true, Thinking: true, JSONMode: false}
}

// MaxContextLength reports the configured model's context window.
func (c *Client) MaxContextLength() int { return c.maxContext }

// Chat sends req through the SDK and blocks for the complete response.
func (c *Client) Chat(ctx context.Context, req llm.Request) (*message.Message, error) {
	params := c.buildParams(req)
	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, errs.Classify(err)
	}
	return fromSDKMessage(req.SessionID, resp), nil
}

// ChatStream issues a raw streaming HTTP request and feeds the
// response body to a stream.Decoder, which publishes deltas on bus as
// it assembles the final message.
func (c *Client) ChatStream(ctx context.Context, req llm.Request, bus *eventbus.Bus) (*message.Message, error) {
	body, err := c.buildRawBody(req)
	if err != nil {
		return nil, errs.Validation("anthropicprovider: encoding request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, errs.Fatal(err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set(anthropicVersionHdr, anthropicAPIVersion)
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errs.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, errs.Classify(fmt.Errorf("anthropicprovider: http status %d", resp.StatusCode))
	}

	dec := stream.New(bus, req.SessionID, req.AgentID, cancel.New())
	return dec.Run(ctx, resp.Body)
}

// CountTokens estimates token usage for messages under this client's
// model. The estimate is delegated to package-level Count, which wraps
// pkoukk/tiktoken-go.
func (c *Client) CountTokens(ctx context.Context, messages []*message.Message) (int, error) {
	return Count(c.model, messages)
}

func (c *Client) buildParams(req llm.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(firstNonZero(req.MaxTokens, c.maxTokens)),
		Messages:  toSDKMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, toSDKTool(td))
	}
	return params
}

// buildRawBody mirrors buildParams but marshals to the exact JSON the
// streaming endpoint expects, including "stream": true — the SDK's
// streaming iterator is not used here so the raw bytes can pass
// through our own decoder unmodified.
func (c *Client) buildRawBody(req llm.Request) (*bytesReader, error) {
	raw := rawRequest{
		Model:       c.model,
		MaxTokens:   firstNonZero(req.MaxTokens, c.maxTokens),
		Temperature: c.temperature,
		Stream:      true,
		Messages:    toRawMessages(req.Messages),
	}
	if req.System != "" {
		raw.System = req.System
	}
	for _, td := range req.Tools {
		raw.Tools = append(raw.Tools, rawTool{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: td.InputSchema,
		})
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return newBytesReader(data), nil
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
