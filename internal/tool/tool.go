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

// Package tool defines the tool contract and the dispatcher that
// executes a batch of tool calls with correct concurrency, permission,
// timeout, and result-ordering semantics, generalizing the teacher's
// parallel orchestration executor (pkg/orchestration/parallel_executor.go)
// from a fixed worker pool into a per-call concurrency-mode dispatcher.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// ConcurrencyMode is how a tool may be scheduled relative to other
// calls in the same batch.
type ConcurrencyMode int

const (
	// Parallel tools may run concurrently with any other Parallel or
	// Limited tool, bounded only by the dispatcher's global permit.
	Parallel ConcurrencyMode = iota
	// Sequential tools run one at a time, after every Parallel/Limited
	// call in the batch has completed.
	Sequential
	// Limited tools may run concurrently like Parallel, but additionally
	// share a per-tool-name semaphore of the declared size.
	Limited
	// ExclusiveByType tools may run concurrently with unrelated tools,
	// but at most one call sharing the same ExclusiveType key may run
	// at a time.
	ExclusiveByType
)

// ProgressFunc is invoked by a running tool to report incremental
// progress; the dispatcher republishes each call as a ToolCallProgress
// event.
type ProgressFunc func(description string)

// ResultKind tags which variant of Result is populated, per §6.2's
// tool output union: Text, Json, Image, Multiple, Error, Empty.
type ResultKind int

const (
	ResultText ResultKind = iota
	ResultJSON
	ResultImage
	ResultMultiple
	ResultError
	ResultEmpty
)

func (k ResultKind) String() string {
	switch k {
	case ResultText:
		return "text"
	case ResultJSON:
		return "json"
	case ResultImage:
		return "image"
	case ResultMultiple:
		return "multiple"
	case ResultError:
		return "error"
	case ResultEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// ResultImageContent carries an image variant's media type and raw bytes
// (not base64-encoded; callers needing the wire form of §6.2's
// base64_data encode Data themselves at the transport edge).
type ResultImageContent struct {
	MediaType string
	Data      []byte
}

// Result is a tool call's terminal outcome, tagged by Kind. Only the
// field(s) matching Kind are meaningful; use the constructor functions
// rather than building a Result literal directly.
type Result struct {
	Kind ResultKind

	Text  string             // ResultText
	JSON  json.RawMessage    // ResultJSON
	Image ResultImageContent // ResultImage
	Parts []Result           // ResultMultiple

	Message string // ResultError
	Details string // ResultError, optional
}

// TextResult builds a ResultText outcome.
func TextResult(text string) Result {
	return Result{Kind: ResultText, Text: text}
}

// JSONResult builds a ResultJSON outcome from an already-encoded value.
func JSONResult(raw json.RawMessage) Result {
	return Result{Kind: ResultJSON, JSON: raw}
}

// ImageResult builds a ResultImage outcome.
func ImageResult(mediaType string, data []byte) Result {
	return Result{Kind: ResultImage, Image: ResultImageContent{MediaType: mediaType, Data: data}}
}

// MultipleResult builds a ResultMultiple outcome from its constituent parts.
func MultipleResult(parts ...Result) Result {
	return Result{Kind: ResultMultiple, Parts: parts}
}

// ErrorResult builds a ResultError outcome. details may be empty.
func ErrorResult(message, details string) Result {
	return Result{Kind: ResultError, Message: message, Details: details}
}

// EmptyResult builds the ResultEmpty outcome, for tools whose effect is
// entirely a side effect with nothing meaningful to report back.
func EmptyResult() Result {
	return Result{Kind: ResultEmpty}
}

// IsError reports whether this outcome represents a failed call.
func (r Result) IsError() bool {
	return r.Kind == ResultError
}

// Flatten collapses the tagged union down to the single string a
// tool_result message content carries on the wire, plus whether it is an
// error. Image collapses to a textual placeholder describing it — a
// provider that wants the raw bytes reads r.Image directly instead of
// going through Flatten.
func (r Result) Flatten() (content string, isError bool) {
	switch r.Kind {
	case ResultText:
		return r.Text, false
	case ResultJSON:
		return string(r.JSON), false
	case ResultImage:
		return fmt.Sprintf("[image: %s, %d bytes]", r.Image.MediaType, len(r.Image.Data)), false
	case ResultMultiple:
		parts := make([]string, len(r.Parts))
		var anyErr bool
		for i, p := range r.Parts {
			s, e := p.Flatten()
			parts[i] = s
			anyErr = anyErr || e
		}
		return strings.Join(parts, "\n"), anyErr
	case ResultError:
		if r.Details != "" {
			return r.Message + ": " + r.Details, true
		}
		return r.Message, true
	case ResultEmpty:
		return "", false
	default:
		return "", false
	}
}

// DecisionKind is the outcome of a permission check.
type DecisionKind int

const (
	Allow DecisionKind = iota
	Deny
	Ask
	Transform
)

// Decision is the result of Tool.CheckPermission.
type Decision struct {
	Kind     DecisionKind
	Reason   string          // set for Deny
	Question string          // set for Ask
	NewInput json.RawMessage // set for Transform
}

// Spec is a tool's static declaration: everything about it that does
// not vary per call.
type Spec struct {
	Name        string
	Description string

	// RawSchema is the tool's JSON Schema as sent to an LLM provider's
	// tool declaration. InputSchema is the compiled form of the same
	// document, used for local validation before Execute runs.
	RawSchema   json.RawMessage
	InputSchema *gojsonschema.Schema

	Mode             ConcurrencyMode
	Limit            int           // only meaningful when Mode == Limited
	ExclusiveType    string        // only meaningful when Mode == ExclusiveByType
	MaxExecutionTime time.Duration // 0 means "use the dispatcher default"
	ReadOnly         bool
	DefaultRisk      string
}

// Tool is anything the dispatcher can invoke. Implementations are
// expected to be stateless and safe for concurrent Execute calls.
type Tool interface {
	Spec() Spec
	CheckPermission(ctx context.Context, input json.RawMessage) (Decision, error)
	Execute(ctx context.Context, input json.RawMessage, progress ProgressFunc) (Result, error)
}

// ValidateInput runs input against spec's JSON schema, if one is set.
func ValidateInput(spec Spec, input json.RawMessage) error {
	if spec.InputSchema == nil {
		return nil
	}
	result, err := spec.InputSchema.Validate(gojsonschema.NewBytesLoader(input))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msg := "input failed schema validation"
		if errs := result.Errors(); len(errs) > 0 {
			msg = errs[0].String()
		}
		return &SchemaError{Tool: spec.Name, Message: msg}
	}
	return nil
}

// SchemaError reports an input failing a tool's declared JSON schema.
type SchemaError struct {
	Tool    string
	Message string
}

func (e *SchemaError) Error() string {
	return "tool " + e.Tool + ": " + e.Message
}
