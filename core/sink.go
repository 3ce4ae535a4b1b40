package core

import (
	"context"
	"sync"
)

// EventSink is the commit path of emitted events. A sink makes the event's
// delta visible (to the working session and, at the root, to the store)
// before returning.
type EventSink interface {
	Commit(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

// Commit implements EventSink.
func (f EventSinkFunc) Commit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// BufferSink applies events to an isolated session copy and keeps them for a
// later forward. It backs concurrent branches whose commits must not become
// visible to siblings before the barrier.
type BufferSink struct {
	session *Session
	events  []Event
	mu      sync.Mutex
}

// NewBufferSink returns a sink that applies to sess and buffers the events.
func NewBufferSink(sess *Session) *BufferSink {
	return &BufferSink{session: sess}
}

// Commit implements EventSink.
func (b *BufferSink) Commit(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session.ApplyEvent(ev)
	b.events = append(b.events, ev)

	return nil
}

// Events returns the buffered events in commit order.
func (b *BufferSink) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, len(b.events))
	copy(out, b.events)

	return out
}

// Delta returns the union of all buffered deltas, later writes winning.
func (b *BufferSink) Delta() StateDelta {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := NewStateDelta()
	for _, ev := range b.events {
		d.Merge(ev.Actions.StateDelta)
	}

	return d
}
