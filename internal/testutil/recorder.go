package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/logging"
)

// Recorder is an EventSink that applies events to a session and records
// them in commit order.
type Recorder struct {
	session *core.Session
	mu      sync.Mutex
	events  []core.Event
}

// NewRecorder returns a recorder committing to sess.
func NewRecorder(sess *core.Session) *Recorder { return &Recorder{session: sess} }

// Commit implements core.EventSink.
func (r *Recorder) Commit(_ context.Context, ev core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session.ApplyEvent(ev)
	r.events = append(r.events, ev)

	return nil
}

// Events returns the recorded events.
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]core.Event(nil), r.events...)
}

// Authors returns the author of each recorded event.
func (r *Recorder) Authors() []string {
	evs := r.Events()

	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Author
	}

	return out
}

// Deltas returns the number of recorded events carrying a non-empty delta.
func (r *Recorder) Deltas() int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Actions.StateDelta.Len() > 0 {
			n++
		}
	}
	return n
}

// NewRunContext builds a root run context over sess whose commits go to the
// returned recorder.
func NewRunContext(ctx context.Context, sess *core.Session, input string) (*core.RunContext, *Recorder) {
	rec := NewRecorder(sess)
	rc := core.NewRunContext(ctx, "run-1", sess, *core.NewTextContent("user", input), rec, logging.NoOpLogger{})

	return rc, rec
}
