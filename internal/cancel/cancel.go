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

// Package cancel implements a hierarchical cancellation token tree: a
// tree of tokens rooted at the runtime, with one child per session, one
// per agent, and one per in-flight tool call. Cancelling any token
// cancels its entire subtree.
package cancel

import "sync"

// Token is a node in the cancellation tree. The zero value is not usable;
// construct one with New or a parent's Child method.
//
// Token is safe for concurrent use. Cancel is idempotent, IsCancelled
// is a non-blocking poll, and Cancelled returns a channel that is closed
// exactly once, at cancellation.
type Token struct {
	mu        sync.Mutex
	done      chan struct{}
	err       error
	cancelled bool
	children  []*Token
	parent    *Token
}

// ErrCancelled is the sentinel reason reported by Err when a token was
// cancelled without an explicit cause (e.g. direct Cancel() rather than
// CancelCause).
var ErrCancelled = &cancelledError{}

type cancelledError struct{}

func (*cancelledError) Error() string { return "cancelled" }

// New creates a fresh root token. Use this once, at the top of the
// runtime, and derive every session/agent/tool-call token from it via
// Child so that a single Cancel at the root tears down everything.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Child creates a new token as a descendant of t. Cancelling t (or any
// ancestor of t) cancels the child transitively. If t is already
// cancelled, the child is created already-cancelled.
func (t *Token) Child() *Token {
	child := &Token{done: make(chan struct{}), parent: t}

	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		child.cancel(t.err)
		return child
	}
	t.children = append(t.children, child)
	t.mu.Unlock()

	return child
}

// Cancel cancels t and, transitively, every descendant token. Cancel is
// idempotent and completes in O(descendants) without blocking. It never
// blocks on a waiter — closing done is all a Cancelled() waiter needs.
func (t *Token) Cancel() {
	t.cancel(ErrCancelled)
}

// CancelCause cancels t (and its descendants) recording err as the
// reason, retrievable via Err. A nil err is treated as ErrCancelled.
func (t *Token) CancelCause(err error) {
	if err == nil {
		err = ErrCancelled
	}
	t.cancel(err)
}

func (t *Token) cancel(err error) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.err = err
	children := t.children
	t.children = nil
	close(t.done)
	t.mu.Unlock()

	// Descendants are cancelled only after this node's own state flip
	// and channel close are visible, so a waiter on a child never
	// observes cancellation before an ancestor that caused it.
	for _, c := range children {
		c.cancel(err)
	}
}

// IsCancelled reports whether t has been cancelled, without blocking.
func (t *Token) IsCancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Cancelled returns a channel that is closed exactly once, when t is
// cancelled. Every subsequent receive on it resolves immediately
// (closed channels always return). Callers race this against other
// suspension points in a biased select, checking cancellation first.
func (t *Token) Cancelled() <-chan struct{} {
	return t.done
}

// Err returns the reason t was cancelled, or nil if it has not been.
func (t *Token) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
