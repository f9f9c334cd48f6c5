// Package bus provides the client's central event bus: priority pub/sub with
// a single sequential executor.
//
// Events are delivered strictly one at a time. Higher-priority events jump
// the queue; events of equal priority are delivered in publish order. A
// handler may publish further events — they are appended to the queue and
// delivered after the current event's remaining handlers, never recursively.
// A handler may also unsubscribe itself (or anything else) mid-delivery.
//
// The reserved event names and their payload types live in events.go; no
// component may invent private synonyms for them.
package bus

import (
	"container/heap"
	"log/slog"
	"sync"
)

// Priority orders event delivery. Within one class, delivery is FIFO.
type Priority int

const (
	Low Priority = iota
	Medium
	High
	Critical
)

// String returns the lowercase name of the priority class.
func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	}
	return "unknown"
}

// Event is one published occurrence: a reserved name, an arbitrary payload
// (one of the structs in events.go for reserved names), and the priority it
// was published at.
type Event struct {
	Name     string
	Payload  any
	Priority Priority
}

// Handler consumes one delivered event. Handlers run on the publishing
// goroutine that is currently acting as the executor and must not block.
type Handler func(Event)

// ErrorSink receives handler panics. The bus recovers every panic, reports
// it, and keeps delivering.
type ErrorSink func(event Event, recovered any)

// Subscription identifies one registered handler for [Bus.Unsubscribe].
type Subscription uint64

// subscription pairs a handler with its identity.
type subscription struct {
	id Subscription
	fn Handler
}

// Option configures a [Bus] during construction.
type Option func(*Bus)

// WithErrorSink replaces the default slog-based panic reporter.
func WithErrorSink(sink ErrorSink) Option {
	return func(b *Bus) {
		if sink != nil {
			b.errSink = sink
		}
	}
}

// Bus is a priority event bus with exactly one executor. Whichever goroutine
// publishes into an idle bus pumps the queue to empty before returning;
// publishes that arrive while the pump runs (including from handlers) are
// enqueued and drained by the active pump. All methods are safe for
// concurrent use.
type Bus struct {
	mu      sync.Mutex
	queue   eventHeap
	seq     uint64 // monotonic counter for FIFO ordering
	pumping bool   // an executor is currently draining the queue

	nextID  Subscription
	subs    map[string][]subscription
	errSink ErrorSink
}

// New returns an empty, ready-to-use [Bus].
func New(opts ...Option) *Bus {
	b := &Bus{
		subs: make(map[string][]subscription),
		errSink: func(ev Event, recovered any) {
			slog.Error("event handler panicked", "event", ev.Name, "panic", recovered)
		},
	}
	for _, o := range opts {
		o(b)
	}
	heap.Init(&b.queue)
	return b
}

// Subscribe registers handler for every event published under name and
// returns a token for [Bus.Unsubscribe]. Handlers for the same name run in
// subscription order. Subscribing during delivery affects subsequent events,
// not the one currently being delivered.
func (b *Bus) Subscribe(name string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: handler})
	return id
}

// Unsubscribe removes the handler registered under sub. Unknown or already
// removed tokens are no-ops. Safe to call from inside a handler.
func (b *Bus) Unsubscribe(name string, sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[name]
	for i, s := range list {
		if s.id == sub {
			b.subs[name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish enqueues the event under its reserved default priority (see
// [DefaultPriority]) and, if no executor is active, pumps the queue to empty
// before returning.
func (b *Bus) Publish(name string, payload any) {
	b.PublishWith(name, payload, DefaultPriority(name))
}

// PublishWith enqueues the event at an explicit priority. Used where the
// reserved table says the priority varies by source (mode.request).
func (b *Bus) PublishWith(name string, payload any, priority Priority) {
	b.mu.Lock()

	b.seq++
	heap.Push(&b.queue, entry{
		event: Event{Name: name, Payload: payload, Priority: priority},
		seq:   b.seq,
	})

	if b.pumping {
		// An executor is already draining; it will pick this up.
		b.mu.Unlock()
		return
	}
	b.pumping = true
	b.mu.Unlock()

	b.pump()
}

// pump drains the queue, delivering each event to a snapshot of its handler
// list. Runs with b.mu released around handler calls so handlers can publish
// and (un)subscribe freely.
func (b *Bus) pump() {
	for {
		b.mu.Lock()
		if b.queue.Len() == 0 {
			b.pumping = false
			b.mu.Unlock()
			return
		}
		e := heap.Pop(&b.queue).(entry)
		handlers := make([]subscription, len(b.subs[e.event.Name]))
		copy(handlers, b.subs[e.event.Name])
		b.mu.Unlock()

		for _, s := range handlers {
			b.deliver(s.fn, e.event)
		}
	}
}

// deliver invokes one handler, converting a panic into an error-sink report.
func (b *Bus) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errSink(ev, r)
		}
	}()
	fn(ev)
}
