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

// Package errs implements a closed error taxonomy: a fixed set of
// error kinds, a typed Error carrying one of them plus a stable message
// and optional details, and a single Classify helper other packages use
// instead of scattering ad hoc retry checks.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is one of the closed set of error kinds the runtime recognises.
type Kind string

const (
	KindCancelled           Kind = "cancelled"
	KindTimeout             Kind = "timeout"
	KindTransientIO         Kind = "transient_io"
	KindRateLimited         Kind = "rate_limited"
	KindContextLengthExceed Kind = "context_length_exceeded"
	KindValidation          Kind = "validation"
	KindPermissionDenied    Kind = "permission_denied"
	KindMaxStepsExceeded    Kind = "max_steps_exceeded"
	KindTaskTimeout         Kind = "task_timeout"
	KindFatal               Kind = "fatal"
)

// Error is the runtime's single error type: every error that crosses a
// component boundary (tool call, LLM request, step loop) is wrapped as
// one of these so callers can switch on Kind rather than matching
// strings. Secrets never belong in Message or Details — both may be
// logged or shown to a user verbatim.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string

	// RetryAfter is set only for KindRateLimited, carrying the
	// provider's hint for how long to wait before retrying.
	RetryAfter time.Duration

	// Used/Max are set only for KindContextLengthExceed.
	Used, Max int

	cause error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind wrapping cause (which may
// be nil).
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// Cancelled wraps cause (typically cancel.ErrCancelled or a context
// cancellation) as a KindCancelled Error. Not retryable.
func Cancelled(cause error) *Error {
	return New(KindCancelled, "operation cancelled", cause)
}

// Timeout reports a scoped timer elapsing after d. Not retryable
// automatically — the caller may choose to retry.
func Timeout(d time.Duration) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf("timed out after %s", d)}
}

// RateLimited reports a provider throttling response, carrying its
// Retry-After hint.
func RateLimited(retryAfter time.Duration, cause error) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limited", RetryAfter: retryAfter, cause: cause}
}

// ContextLengthExceeded reports the conversation exceeding the model's
// context window.
func ContextLengthExceeded(used, max int) *Error {
	return &Error{
		Kind:    KindContextLengthExceed,
		Message: fmt.Sprintf("context length exceeded: used %d of %d tokens", used, max),
		Used:    used,
		Max:     max,
	}
}

// Validation reports a tool input failing its JSON-Schema.
func Validation(msg string, cause error) *Error {
	return New(KindValidation, msg, cause)
}

// PermissionDenied reports a denied permission check, optionally
// carrying the reason the checker gave.
func PermissionDenied(reason string) *Error {
	msg := "permission denied"
	if reason != "" {
		msg = "permission denied: " + reason
	}
	return &Error{Kind: KindPermissionDenied, Message: msg}
}

// MaxStepsExceeded reports an agent's step counter exceeding max_steps.
func MaxStepsExceeded(step, max int) *Error {
	return &Error{Kind: KindMaxStepsExceeded, Message: fmt.Sprintf("step %d exceeds max_steps %d", step, max)}
}

// TaskTimeout reports a task's wall-clock timeout elapsing.
func TaskTimeout(d time.Duration) *Error {
	return &Error{Kind: KindTaskTimeout, Message: fmt.Sprintf("task exceeded timeout of %s", d)}
}

// Fatal wraps a caught panic or invariant break. The task boundary that
// catches a panic should wrap it with this before emitting an Error
// event; it terminates only the offending agent, not its siblings or
// the runtime as a whole.
func Fatal(cause error) *Error {
	return New(KindFatal, "internal error", cause)
}

// TransientIO wraps a connection reset / 5xx / transport timeout.
// Retryable with exponential backoff up to retry.max_attempts.
func TransientIO(cause error) *Error {
	return New(KindTransientIO, "transient I/O error", cause)
}

// Retryable reports whether kind is eligible for the backoff retry
// helper in package llm. Cancelled, Timeout (automatic), Validation,
// PermissionDenied, MaxStepsExceeded, TaskTimeout, and Fatal are not.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientIO, KindRateLimited:
		return true
	default:
		return false
	}
}

// Classify maps an arbitrary error (typically returned by an http.Client
// call or an LLM provider SDK) onto an *Error, so retry logic has a
// single place to look instead of ad hoc string matching scattered
// across call sites.
//
// Classify is deliberately conservative: unrecognised errors become
// KindFatal (not retryable) rather than silently retrying something
// that will never succeed.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context canceled"), strings.Contains(msg, "context cancelled"):
		return Cancelled(err)
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "context deadline"):
		return Timeout(0)
	case isThrottling(msg):
		return RateLimited(0, err)
	case isTransient(msg):
		return TransientIO(err)
	default:
		return Fatal(err)
	}
}

func isThrottling(msg string) bool {
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "throttl")
}

func isTransient(msg string) bool {
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout") {
		return true
	}
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
