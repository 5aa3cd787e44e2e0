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

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/teradata-labs/loomcore/internal/cancel"
	"github.com/teradata-labs/loomcore/internal/csync"
	"github.com/teradata-labs/loomcore/internal/errs"
	"github.com/teradata-labs/loomcore/internal/eventbus"
)

// DefaultGlobalConcurrency is N_global when the caller doesn't override it.
const DefaultGlobalConcurrency = 8

// DefaultMaxExecutionTime bounds a call's Running state when its Spec
// doesn't declare one.
const DefaultMaxExecutionTime = 120 * time.Second

// Request is one tool invocation as emitted by an assistant message,
// before it enters the dispatcher's pipeline.
type Request struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// PermissionResolver answers an Ask decision by suspending for an
// external (usually user-driven) choice. The permission package
// implements this against its own grant store; a nil resolver makes
// every Ask decision resolve to Denied. callID is the requesting
// call's ID, so the resolver can publish a PermissionRequested event
// correlated with the same ID the dispatcher's ToolCallStart/Complete
// events carry.
type PermissionResolver interface {
	Resolve(ctx context.Context, sessionID, agentID, callID, toolName, question string) (Decision, error)
}

// Dispatcher executes a batch of tool calls with the concurrency,
// permission, timeout, and ordering guarantees of §4.3: Parallel and
// Limited calls run concurrently gated by a global permit (and a
// per-tool permit for Limited, and a type-exclusive lock for
// ExclusiveByType); Sequential calls run afterward, one at a time;
// results are always returned in original request order.
type Dispatcher struct {
	registry       *Registry
	globalSem      *semaphore.Weighted
	defaultTimeout time.Duration
	bus            *eventbus.Bus
	resolver       PermissionResolver
	tracer         trace.Tracer

	limitedSems    *csync.Map[string, *semaphore.Weighted]
	exclusiveLocks *csync.Map[string, *sync.Mutex]
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithGlobalConcurrency overrides DefaultGlobalConcurrency.
func WithGlobalConcurrency(n int64) Option {
	return func(d *Dispatcher) { d.globalSem = semaphore.NewWeighted(n) }
}

// WithDefaultTimeout overrides DefaultMaxExecutionTime.
func WithDefaultTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.defaultTimeout = d }
}

// WithEventBus attaches the bus every dispatch publishes to.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithPermissionResolver attaches the resolver used for Ask decisions.
func WithPermissionResolver(r PermissionResolver) Option {
	return func(d *Dispatcher) { d.resolver = r }
}

// WithTracer overrides the dispatcher's default global tracer, mainly
// for tests that want to assert on recorded spans.
func WithTracer(tr trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tr }
}

// NewDispatcher constructs a Dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		globalSem:      semaphore.NewWeighted(DefaultGlobalConcurrency),
		defaultTimeout: DefaultMaxExecutionTime,
		tracer:         otel.Tracer("github.com/teradata-labs/loomcore/internal/tool"),
		limitedSems:    csync.NewMap[string, *semaphore.Weighted](),
		exclusiveLocks: csync.NewMap[string, *sync.Mutex](),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) publish(ev eventbus.Event) {
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}

// Dispatch runs reqs to completion and returns their Calls in the same
// order reqs were given, regardless of completion order.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, agentID string, reqs []Request, parentToken *cancel.Token) ([]*Call, error) {
	ctx, span := d.tracer.Start(ctx, "tool.Dispatch")
	defer span.End()

	calls := make([]*Call, len(reqs))
	var parallelIdx, sequentialIdx []int

	for i, req := range reqs {
		call := NewCall(req.ID, req.Name, req.Input, parentToken)
		calls[i] = call

		t, ok := d.registry.Lookup(req.Name)
		if !ok {
			call.setState(FailedState)
			call.err = errs.Validation("no such tool: "+req.Name, nil)
			continue
		}
		if t.Spec().Mode == Sequential {
			sequentialIdx = append(sequentialIdx, i)
		} else {
			parallelIdx = append(parallelIdx, i)
		}
	}

	// d.run records its outcome on the *Call itself rather than returning
	// an error, so errgroup.Group here is purely structured fan-out/fan-in
	// bookkeeping — Wait's error return is always nil and discarded.
	var grp errgroup.Group
	for _, i := range parallelIdx {
		i := i
		t, ok := d.registry.Lookup(calls[i].Name)
		if !ok {
			continue
		}
		grp.Go(func() error {
			d.run(ctx, sessionID, agentID, calls[i], t)
			return nil
		})
	}
	grp.Wait()

	for _, i := range sequentialIdx {
		t, ok := d.registry.Lookup(calls[i].Name)
		if !ok {
			continue
		}
		d.run(ctx, sessionID, agentID, calls[i], t)
	}

	return calls, nil
}

func (d *Dispatcher) run(ctx context.Context, sessionID, agentID string, call *Call, t Tool) {
	spec := t.Spec()

	call.setState(Queued)
	call.mu.Lock()
	call.enqueuedAt = time.Now()
	call.mu.Unlock()

	release, err := d.acquirePermits(ctx, spec)
	if err != nil {
		call.setState(Cancelled)
		call.mu.Lock()
		call.err = errs.Cancelled(err)
		call.mu.Unlock()
		return
	}
	defer release()

	if call.Token.IsCancelled() {
		call.setState(Cancelled)
		return
	}

	call.setState(CheckingPermission)
	if err := ValidateInput(spec, call.Input); err != nil {
		call.setState(FailedState)
		call.mu.Lock()
		call.err = errs.Validation(err.Error(), err)
		call.mu.Unlock()
		d.publish(eventbus.ToolCallComplete(sessionID, agentID, call.ID, call.err))
		return
	}

	decision, err := t.CheckPermission(ctx, call.Input)
	if err != nil {
		call.setState(FailedState)
		call.mu.Lock()
		call.err = err
		call.mu.Unlock()
		d.publish(eventbus.ToolCallComplete(sessionID, agentID, call.ID, err))
		return
	}

	switch decision.Kind {
	case Deny:
		call.setState(Denied)
		call.mu.Lock()
		call.denyReason = decision.Reason
		call.err = errs.PermissionDenied(decision.Reason)
		call.mu.Unlock()
		d.publish(eventbus.PermissionDenied(sessionID, agentID, call.ID))
		d.publish(eventbus.ToolCallComplete(sessionID, agentID, call.ID, call.err))
		return

	case Ask:
		// The resolver (permission.Service, in production) is the sole
		// publisher of PermissionRequested/-Granted/-Denied for this
		// call, keyed by call.ID. The dispatcher does not also publish
		// them here; that would give a subscriber two uncorrelated event
		// streams for the same request. With no resolver configured there
		// is no Service to publish anything, so the dispatcher does.
		if d.resolver == nil {
			call.setState(Denied)
			call.mu.Lock()
			call.err = errs.PermissionDenied("no permission resolver configured")
			call.mu.Unlock()
			d.publish(eventbus.PermissionRequested(sessionID, agentID, call.ID, spec.Name, spec.DefaultRisk))
			d.publish(eventbus.PermissionDenied(sessionID, agentID, call.ID))
			d.publish(eventbus.ToolCallComplete(sessionID, agentID, call.ID, call.err))
			return
		}
		resolved, err := d.resolver.Resolve(ctx, sessionID, agentID, call.ID, spec.Name, decision.Question)
		if err != nil || resolved.Kind == Deny {
			call.setState(Denied)
			call.mu.Lock()
			call.err = errs.PermissionDenied(resolved.Reason)
			call.mu.Unlock()
			d.publish(eventbus.ToolCallComplete(sessionID, agentID, call.ID, call.err))
			return
		}
		if resolved.Kind == Transform {
			call.Input = resolved.NewInput
		}

	case Transform:
		call.Input = decision.NewInput
	}

	timeout := spec.MaxExecutionTime
	if timeout == 0 {
		timeout = d.defaultTimeout
	}
	execCtx, cancelExec := withTokenTimeout(ctx, call.Token, timeout)
	defer cancelExec()

	call.setState(Running)
	call.mu.Lock()
	call.startedAt = time.Now()
	call.mu.Unlock()
	d.publish(eventbus.ToolCallStart(sessionID, agentID, call.ID, spec.Name))

	progress := func(desc string) {
		d.publish(eventbus.ToolCallProgress(sessionID, agentID, call.ID, desc))
	}

	result, execErr := t.Execute(execCtx, call.Input, progress)

	call.mu.Lock()
	call.finishedAt = time.Now()
	call.mu.Unlock()

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		call.setState(TimedOut)
		call.Token.Cancel()
		call.mu.Lock()
		call.err = errs.Timeout(timeout)
		call.mu.Unlock()
	case call.Token.IsCancelled():
		call.setState(Cancelled)
		call.mu.Lock()
		call.err = errs.Cancelled(call.Token.Err())
		call.mu.Unlock()
	case execErr != nil:
		call.setState(FailedState)
		call.mu.Lock()
		call.err = execErr
		call.mu.Unlock()
	default:
		call.setState(Success)
		call.mu.Lock()
		call.result = result
		call.mu.Unlock()
	}

	call.mu.Lock()
	finalErr := call.err
	call.mu.Unlock()
	d.publish(eventbus.ToolCallComplete(sessionID, agentID, call.ID, finalErr))
}

// acquirePermits blocks until every permit spec requires is held, and
// returns a function that releases them all, in reverse order.
func (d *Dispatcher) acquirePermits(ctx context.Context, spec Spec) (func(), error) {
	if err := d.globalSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	releasers := []func(){func() { d.globalSem.Release(1) }}

	switch spec.Mode {
	case Limited:
		sem := d.limitedSem(spec.Name, spec.Limit)
		if err := sem.Acquire(ctx, 1); err != nil {
			releaseAll(releasers)
			return nil, err
		}
		releasers = append(releasers, func() { sem.Release(1) })

	case ExclusiveByType:
		lock := d.exclusiveLock(spec.ExclusiveType)
		lockCh := make(chan struct{})
		go func() {
			lock.Lock()
			close(lockCh)
		}()
		select {
		case <-lockCh:
			releasers = append(releasers, lock.Unlock)
		case <-ctx.Done():
			releaseAll(releasers)
			return nil, ctx.Err()
		}
	}

	return func() { releaseAll(releasers) }, nil
}

func releaseAll(releasers []func()) {
	for i := len(releasers) - 1; i >= 0; i-- {
		releasers[i]()
	}
}

func (d *Dispatcher) limitedSem(name string, limit int) *semaphore.Weighted {
	if limit <= 0 {
		limit = 1
	}
	return d.limitedSems.LoadOrStore(name, func() *semaphore.Weighted {
		return semaphore.NewWeighted(int64(limit))
	})
}

func (d *Dispatcher) exclusiveLock(key string) *sync.Mutex {
	return d.exclusiveLocks.LoadOrStore(key, func() *sync.Mutex {
		return &sync.Mutex{}
	})
}

// withTokenTimeout derives a context that is cancelled when parent is
// done, when timeout elapses, or when tok is cancelled — whichever
// comes first.
func withTokenTimeout(parent context.Context, tok *cancel.Token, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancelFn := context.WithTimeout(parent, timeout)
	go func() {
		select {
		case <-tok.Cancelled():
			cancelFn()
		case <-ctx.Done():
		}
	}()
	return ctx, cancelFn
}
