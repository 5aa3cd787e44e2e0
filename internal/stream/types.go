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

package stream

import "encoding/json"

// EventName is one of the frame kinds the classifier recognises.
type EventName string

const (
	EventMessageStart      EventName = "message_start"
	EventContentBlockStart EventName = "content_block_start"
	EventContentBlockDelta EventName = "content_block_delta"
	EventContentBlockStop  EventName = "content_block_stop"
	EventMessageDelta      EventName = "message_delta"
	EventMessageStop       EventName = "message_stop"
	EventPing              EventName = "ping"
	EventError             EventName = "error"
)

// wire payload shapes, decoded from each frame's JSON data.

type messageStartPayload struct {
	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Role  string `json:"role"`
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type contentBlockStartPayload struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type contentBlockDeltaPayload struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		Thinking    string `json:"thinking"`
		Signature   string `json:"signature"`
	} `json:"delta"`
}

type contentBlockStopPayload struct {
	Index int `json:"index"`
}

type messageDeltaPayload struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// unmarshalInto is a small helper so each dispatch branch stays one line.
func unmarshalInto(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}
