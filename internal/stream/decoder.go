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

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/teradata-labs/loomcore/internal/cancel"
	"github.com/teradata-labs/loomcore/internal/errs"
	"github.com/teradata-labs/loomcore/internal/eventbus"
	"github.com/teradata-labs/loomcore/internal/message"
)

// Decoder turns one HTTP chunked SSE body into a complete Message,
// publishing every intermediate step on the event bus as it goes.
// A Decoder is single-use: call Run once per HTTP response body.
type Decoder struct {
	bus       *eventbus.Bus
	sessionID string
	agentID   string
	token     *cancel.Token

	parser *FrameParser
	status ConnStatus
	msg    *message.Message
	blocks map[int]*partialBlock
}

// New constructs a Decoder bound to one session/agent pair. bus may be
// nil, in which case events are assembled but never published (useful
// in tests that only care about the resulting Message).
func New(bus *eventbus.Bus, sessionID, agentID string, token *cancel.Token) *Decoder {
	return &Decoder{
		bus:       bus,
		sessionID: sessionID,
		agentID:   agentID,
		token:     token,
		parser:    NewFrameParser(),
		blocks:    make(map[int]*partialBlock),
		status:    ConnStatus{State: Disconnected},
	}
}

// Status reports the decoder's current connection state.
func (d *Decoder) Status() ConnStatus { return d.status }

func (d *Decoder) publish(ev eventbus.Event) {
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}

// Run reads body to completion (or failure, or cancellation), dispatching
// each SSE frame as it is assembled, and returns the finalized Message.
func (d *Decoder) Run(ctx context.Context, body io.Reader) (*message.Message, error) {
	d.status = ConnStatus{State: Connecting, Attempt: 1}
	d.publish(eventbus.StreamConnected(d.sessionID, d.agentID))
	d.status.State = Connected

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			d.status.State = Disconnected
			return nil, errs.Cancelled(ctx.Err())
		default:
		}
		if d.token != nil && d.token.IsCancelled() {
			d.status.State = Disconnected
			return nil, errs.Cancelled(d.token.Err())
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			d.status.State = Streaming
			d.status.BytesReceived += int64(n)
			frames := d.parser.Feed(buf[:n])
			for _, f := range frames {
				if err := d.dispatch(f); err != nil {
					d.publish(eventbus.ErrorEvent(d.sessionID, d.agentID, err))
					if d.status.State == Failed {
						return nil, err
					}
				}
				if d.status.State == Completed {
					d.publish(eventbus.StreamDisconnected(d.sessionID, d.agentID, nil))
					return d.msg, nil
				}
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				if d.status.State == Completed {
					return d.msg, nil
				}
				d.status.State = Failed
				err := errs.TransientIO(fmt.Errorf("stream: connection closed before message_stop"))
				d.publish(eventbus.StreamDisconnected(d.sessionID, d.agentID, err))
				return nil, err
			}
			d.status.State = Failed
			d.status.Err = readErr
			classified := errs.Classify(readErr)
			d.publish(eventbus.StreamDisconnected(d.sessionID, d.agentID, classified))
			return nil, classified
		}
	}
}

func (d *Decoder) dispatch(f Frame) error {
	switch EventName(f.Event) {
	case EventMessageStart:
		var p messageStartPayload
		if err := unmarshalInto(f.Data, &p); err != nil {
			return errs.Validation("stream: malformed message_start", err)
		}
		d.msg = message.New(d.sessionID, message.RoleAssistant)
		d.msg.ID = p.Message.ID
		d.msg.Model = p.Message.Model
		d.msg.Usage.InputTokens = p.Message.Usage.InputTokens
		d.publish(eventbus.MessageStart(d.sessionID, d.agentID, message.RoleAssistant))

	case EventContentBlockStart:
		var p contentBlockStartPayload
		if err := unmarshalInto(f.Data, &p); err != nil {
			return errs.Validation("stream: malformed content_block_start", err)
		}
		d.blocks[p.Index] = &partialBlock{
			Kind:     p.ContentBlock.Type,
			ToolID:   p.ContentBlock.ID,
			ToolName: p.ContentBlock.Name,
		}
		d.publish(eventbus.ContentBlockStart(d.sessionID, d.agentID, p.Index))

	case EventContentBlockDelta:
		var p contentBlockDeltaPayload
		if err := unmarshalInto(f.Data, &p); err != nil {
			return errs.Validation("stream: malformed content_block_delta", err)
		}
		b, ok := d.blocks[p.Index]
		if !ok {
			return errs.Validation(fmt.Sprintf("stream: delta for unknown block index %d", p.Index), nil)
		}
		var dk eventbus.DeltaKind
		var text string
		switch p.Delta.Type {
		case "text_delta":
			b.textBuf = append(b.textBuf, p.Delta.Text...)
			dk, text = eventbus.DeltaText, p.Delta.Text
		case "input_json_delta":
			b.toolJSON = append(b.toolJSON, p.Delta.PartialJSON...)
			dk, text = eventbus.DeltaInputJSON, p.Delta.PartialJSON
		case "thinking_delta":
			b.thinkBuf = append(b.thinkBuf, p.Delta.Thinking...)
			dk, text = eventbus.DeltaThinking, p.Delta.Thinking
		case "signature_delta":
			b.signature += p.Delta.Signature
			return nil
		default:
			return errs.Validation("stream: unknown delta type "+p.Delta.Type, nil)
		}
		d.publish(eventbus.ContentBlockDelta(d.sessionID, d.agentID, p.Index, dk, text))

	case EventContentBlockStop:
		var p contentBlockStopPayload
		if err := unmarshalInto(f.Data, &p); err != nil {
			return errs.Validation("stream: malformed content_block_stop", err)
		}
		b, ok := d.blocks[p.Index]
		if !ok {
			return errs.Validation(fmt.Sprintf("stream: stop for unknown block index %d", p.Index), nil)
		}
		if d.msg == nil {
			return errs.Validation("stream: content_block_stop before message_start", nil)
		}
		block, err := finalizeBlock(b)
		if err != nil {
			b.failed = true
			b.failErr = err
			d.publish(eventbus.ErrorEvent(d.sessionID, d.agentID, err))
		} else {
			d.msg.AddBlock(block)
		}
		d.publish(eventbus.ContentBlockStop(d.sessionID, d.agentID, p.Index))

	case EventMessageDelta:
		var p messageDeltaPayload
		if err := unmarshalInto(f.Data, &p); err != nil {
			return errs.Validation("stream: malformed message_delta", err)
		}
		if d.msg != nil {
			d.msg.Usage.OutputTokens = p.Usage.OutputTokens
			d.msg.StopReason = mapStopReason(p.Delta.StopReason)
		}

	case EventMessageStop:
		if d.msg == nil {
			return errs.Validation("stream: message_stop before message_start", nil)
		}
		reason := d.msg.StopReason
		if reason == "" {
			reason = message.StopEndTurn
		}
		d.msg.Finalize(reason)
		d.status.State = Completed
		d.publish(eventbus.MessageStop(d.sessionID, d.agentID, reason, d.msg.Usage))

	case EventPing:
		// keepalive, nothing to do

	case EventError:
		var p errorPayload
		if err := unmarshalInto(f.Data, &p); err != nil {
			d.status.State = Failed
			return errs.Fatal(fmt.Errorf("stream: malformed error event: %w", err))
		}
		d.status.State = Failed
		return errs.Classify(fmt.Errorf("%s: %s", p.Error.Type, p.Error.Message))

	default:
		// Unknown event names are ignored rather than failing the stream.
	}
	return nil
}

func finalizeBlock(b *partialBlock) (message.ContentBlock, error) {
	switch b.Kind {
	case "text":
		return message.Text{Text: string(b.textBuf)}, nil
	case "thinking":
		return message.Thinking{Text: string(b.thinkBuf), Signature: b.signature}, nil
	case "tool_use":
		raw := b.toolJSON
		if len(raw) == 0 {
			raw = []byte("{}")
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("stream: tool_use block %s (%s) has malformed input_json: %s", b.ToolID, b.ToolName, raw)
		}
		return message.ToolUse{
			CallID:    b.ToolID,
			Name:      b.ToolName,
			Input:     append([]byte(nil), raw...),
			InputJSON: string(raw),
		}, nil
	default:
		return nil, fmt.Errorf("stream: unknown content block type %q", b.Kind)
	}
}

func mapStopReason(raw string) message.StopReason {
	switch raw {
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
