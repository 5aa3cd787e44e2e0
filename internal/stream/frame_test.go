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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedParsesASingleCompleteFrame(t *testing.T) {
	p := NewFrameParser()
	frames := p.Feed([]byte("event: ping\ndata: {}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "ping", frames[0].Event)
	assert.Equal(t, "{}", frames[0].Data)
}

func TestFeedJoinsMultilineData(t *testing.T) {
	p := NewFrameParser()
	frames := p.Feed([]byte("event: content_block_delta\ndata: {\"a\":\ndata: 1}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "{\"a\":\n1}", frames[0].Data)
}

func TestFeedBuffersIncompleteTrailingBytesAcrossCalls(t *testing.T) {
	p := NewFrameParser()
	frames := p.Feed([]byte("event: ping\ndata: {}"))
	assert.Empty(t, frames)

	frames = p.Feed([]byte("\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "ping", frames[0].Event)
}

func TestFeedIgnoresCommentIDAndRetryLines(t *testing.T) {
	p := NewFrameParser()
	frames := p.Feed([]byte(": keepalive\nid: 42\nretry: 1000\nevent: ping\ndata: {}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "ping", frames[0].Event)
}

func TestFeedHandlesMultipleFramesInOneChunk(t *testing.T) {
	p := NewFrameParser()
	frames := p.Feed([]byte("event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"))
	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[0].Event)
	assert.Equal(t, "b", frames[1].Event)
}

func TestFeedDropsBareCommentOnlyFrame(t *testing.T) {
	p := NewFrameParser()
	frames := p.Feed([]byte(": just a comment\n\n"))
	assert.Empty(t, frames)
}
