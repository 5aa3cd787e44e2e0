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

// Package eventbus implements a broadcast event bus: a single Publish
// that never blocks and never fails visibly, fanned out to independent
// per-subscriber ring buffers. A subscriber that falls more than
// Capacity events behind is not starved of memory — it is told how many
// events it missed via a Lag event and resumes from there: the buffer
// drops the *oldest* buffered event and counts it, rather than
// dropping the newest arrival silently.
package eventbus

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultCapacity is the default per-subscriber ring buffer size,
// overridable via the runtime's event_bus_capacity config option.
const DefaultCapacity = 1024

// Bus fans Event values out to independent subscribers. The zero value
// is not usable; construct with New.
type Bus struct {
	mu       sync.RWMutex
	subs     map[*Receiver]struct{}
	capacity int
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(b *Bus) { b.capacity = n }
}

// WithLogger attaches a zap logger (default: a no-op logger).
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithTracer attaches an OpenTelemetry tracer used to span each Publish
// call, so a slow fan-out is visible in traces without the core taking
// a dependency on any particular exporter or backend.
func WithTracer(tr trace.Tracer) Option {
	return func(b *Bus) { b.tracer = tr }
}

// New constructs a Bus ready to accept subscribers.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[*Receiver]struct{}),
		capacity: DefaultCapacity,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish delivers ev to every current subscriber. It never blocks: a
// subscriber whose ring buffer is full has its oldest buffered event
// overwritten and its miss counter incremented: the drop is never
// silent, it surfaces as a Lag event on that subscriber's next Recv.
func (b *Bus) Publish(ev Event) {
	var span trace.Span
	if b.tracer != nil {
		_, span = b.tracer.Start(context.Background(), "eventbus.publish")
		defer span.End()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for r := range b.subs {
		r.push(ev)
	}
}

// Subscribe registers a new Receiver starting at the current head (it
// observes only events published after Subscribe returns). Call
// Receiver.Close when done to release the subscription.
func (b *Bus) Subscribe() *Receiver {
	r := newReceiver(b.capacity)
	b.mu.Lock()
	b.subs[r] = struct{}{}
	b.mu.Unlock()
	r.onClose = func() {
		b.mu.Lock()
		delete(b.subs, r)
		b.mu.Unlock()
	}
	return r
}

// SubscriberCount reports the current number of live subscribers
// (useful for tests and diagnostics).
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Receiver is one subscriber's view of the bus: an independent ring
// buffer with its own backlog and miss counter.
type Receiver struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ring    []Event
	head    int
	count   int
	missed  int64
	closed  bool
	onClose func()
}

func newReceiver(capacity int) *Receiver {
	r := &Receiver{ring: make([]Event, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Receiver) push(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	cap := len(r.ring)
	if r.count == cap {
		// Buffer full: drop the oldest buffered event, not the new
		// arrival, and count the drop so it surfaces as a Lag event.
		r.ring[r.head] = ev
		r.head = (r.head + 1) % cap
		r.missed++
	} else {
		idx := (r.head + r.count) % cap
		r.ring[idx] = ev
		r.count++
	}
	r.cond.Signal()
}

// Recv blocks until an event is available, the Receiver is closed, or
// ctx is done. If this Receiver dropped events since the last Recv, the
// very next call returns a synthetic Lag event before any buffered
// event — a lagging subscriber always learns it lagged before it sees
// the next event in the stream.
func (r *Receiver) Recv(ctx context.Context) (Event, error) {
	// A cancellable condvar wait: context.AfterFunc wakes the condvar
	// when ctx is done, and stop unregisters it when this call returns.
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
		close(done)
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.count == 0 && r.missed == 0 && !r.closed {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		default:
		}
		r.cond.Wait()
	}

	if r.missed > 0 {
		missed := r.missed
		r.missed = 0
		return Event{Kind: KindLag, Missed: missed}, nil
	}
	if r.count == 0 {
		if r.closed {
			return Event{}, ErrClosed
		}
		return Event{}, ctx.Err()
	}

	ev := r.ring[r.head]
	r.head = (r.head + 1) % len(r.ring)
	r.count--
	return ev, nil
}

// Close releases this subscription. Subsequent Recv calls return
// ErrClosed once the backlog has drained.
func (r *Receiver) Close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
	if r.onClose != nil {
		r.onClose()
	}
}
