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
package trajectory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesOneJSONLinePerEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Append(TaskStartEntry("task_1", "do the thing", "agent_1", "general")))
	require.NoError(t, w.Append(TaskCompleteEntry("task_1", 3, "ok")))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var first Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, TaskStart, first.Type)
	assert.Equal(t, "task_1", first.TaskID)
}

func TestAppendStampsTimestampWhenZero(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	before := time.Now()
	require.NoError(t, w.Append(TaskCompleteEntry("t", 1, "done")))
	after := time.Now()

	var decoded Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.False(t, decoded.Timestamp.Before(before))
	assert.False(t, decoded.Timestamp.After(after))
}

func TestEntryBuildersRoundTripDataPayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Append(ToolExecutionEntry("t", "call_1", "read_file", "completed", 2*time.Second)))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	data := raw["data"].(map[string]any)
	assert.Equal(t, "read_file", data["tool_name"])
	assert.Equal(t, "2s", data["duration"])
}

func TestAppendIsSafeForConcurrentUse(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = w.Append(LLMRequestEntry("t", n, "claude-sonnet-4-5", 1))
		}(i)
	}
	wg.Wait()

	scanner := bufio.NewScanner(strings.NewReader(buf.String()))
	count := 0
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		count++
	}
	assert.Equal(t, 20, count)
}

func TestErrorEntryForCarriesKindAndMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Append(ErrorEntryFor("t", "max_steps_exceeded", "step 50 exceeds limit")))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, "error", raw["entry_type"])
	data := raw["data"].(map[string]any)
	assert.Equal(t, "max_steps_exceeded", data["kind"])
	assert.Equal(t, "step 50 exceeds limit", data["message"])
}
