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

// ConnState is one state of the stream's connection state machine:
// Disconnected -> Connecting(attempt) -> Connected -> Streaming(bytes)
// -> {Completed | Failed(err, attempts)}, and back to Disconnected on
// cancellation. This package has no reconnect operation: a Decoder makes
// a single attempt and never leaves Completed or Failed.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Streaming
	Completed
	Failed
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnStatus is the decoder's current connection state plus the
// bookkeeping that goes with it.
type ConnStatus struct {
	State         ConnState
	Attempt       int
	BytesReceived int64
	Err           error
}

// partialBlock is one in-progress content block being assembled.
// Exactly one of the typed buffers is populated, selected by Kind.
type partialBlock struct {
	Kind      string // "text", "tool_use", "thinking"
	ToolID    string
	ToolName  string
	textBuf   []byte
	toolJSON  []byte
	thinkBuf  []byte
	signature string
	failed    bool
	failErr   error
}
