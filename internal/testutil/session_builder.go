package testutil

import (
	"github.com/hupe1980/meshflow/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").State("k", "v").User("tier", "gold").Build()
type SessionBuilder struct {
	id     string
	userID string
	delta  core.StateDelta
	events []core.Event
}

// NewSessionBuilder creates a new builder for a session with the given id,
// owned by user "u1" unless changed with UserID.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, userID: "u1", delta: core.NewStateDelta()}
}

// UserID sets the owning user (chainable).
func (b *SessionBuilder) UserID(id string) *SessionBuilder {
	b.userID = id
	return b
}

// State sets a session scoped value (chainable).
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.delta.Set(core.SessionKey(key), val)
	return b
}

// User sets a user scoped value (chainable).
func (b *SessionBuilder) User(key string, val any) *SessionBuilder {
	b.delta.Set(core.UserKey(key), val)
	return b
}

// Temp sets a run scoped value (chainable).
func (b *SessionBuilder) Temp(key string, val any) *SessionBuilder {
	b.delta.Set(core.TempKey(key), val)
	return b
}

// Events appends events to the session history (chainable).
func (b *SessionBuilder) Events(evs ...core.Event) *SessionBuilder {
	b.events = append(b.events, evs...)
	return b
}

// Build returns a *core.Session with pre-populated state and events.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id, b.userID)
	s.ApplyStateDelta(b.delta)

	for _, ev := range b.events {
		s.ApplyEvent(ev)
	}

	return s
}
