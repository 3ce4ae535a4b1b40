package core

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Session represents a conversational container tracking scoped key/value
// state plus an ordered event history. It is safe for concurrent access.
//
// Contract:
//   - State mutations update the Updated timestamp
//   - History returns a defensive copy to avoid external mutation
//   - TempState is never serialized and never persisted by a store
//   - Clone performs deep copies of maps/slices for safe divergence.
type Session struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	AppName   string            `json:"app_name,omitempty"`
	State     map[string]any    `json:"state"`
	UserState map[string]any    `json:"user_state"`
	TempState map[string]any    `json:"-"`
	Events    []Event           `json:"events"`
	Created   time.Time         `json:"created"`
	Updated   time.Time         `json:"updated"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	mu        sync.RWMutex
}

// NewSession creates a new empty session with the given ID and owner.
func NewSession(id, userID string) *Session {
	now := time.Now().UTC()

	return &Session{
		ID:        id,
		UserID:    userID,
		State:     map[string]any{},
		UserState: map[string]any{},
		TempState: map[string]any{},
		Events:    []Event{},
		Created:   now,
		Updated:   now,
		Metadata:  map[string]string{},
	}
}

func (s *Session) scopeMap(scope Scope) map[string]any {
	switch scope {
	case ScopeUser:
		if s.UserState == nil {
			s.UserState = map[string]any{}
		}
		return s.UserState
	case ScopeTemp:
		if s.TempState == nil {
			s.TempState = map[string]any{}
		}
		return s.TempState
	default:
		if s.State == nil {
			s.State = map[string]any{}
		}
		return s.State
	}
}

// Lookup returns the value and existence flag for a scoped key.
func (s *Session) Lookup(key StateKey) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m map[string]any

	switch key.Scope {
	case ScopeUser:
		m = s.UserState
	case ScopeTemp:
		m = s.TempState
	default:
		m = s.State
	}

	v, ok := m[key.Name]

	return v, ok
}

// StateOf returns a copy of all values in scope.
func (s *Session) StateOf(scope Scope) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m map[string]any

	switch scope {
	case ScopeUser:
		m = s.UserState
	case ScopeTemp:
		m = s.TempState
	default:
		m = s.State
	}

	out := make(map[string]any, len(m))
	maps.Copy(out, m)

	return out
}

// SetState writes a single value updating the Updated timestamp.
func (s *Session) SetState(key StateKey, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scopeMap(key.Scope)[key.Name] = value
	s.Updated = time.Now().UTC()
}

// ApplyStateDelta merges every write of delta under a single lock.
func (s *Session) ApplyStateDelta(delta StateDelta) {
	if delta.Len() == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.applyLocked(delta)
	s.Updated = time.Now().UTC()
}

func (s *Session) applyLocked(delta StateDelta) {
	for scope, m := range delta {
		maps.Copy(s.scopeMap(scope), m)
	}
}

// ApplyEvent merges the event's delta and appends it to the history as one
// atomic step. Partial events are neither merged nor recorded.
func (s *Session) ApplyEvent(ev Event) {
	if ev.IsPartial() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.applyLocked(ev.Actions.StateDelta)
	s.Events = append(s.Events, ev)
	s.Updated = time.Now().UTC()
}

// History returns a copy of the full event slice.
func (s *Session) History() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]Event, len(s.Events))
	copy(events, s.Events)

	return events
}

// ConversationHistory returns events suitable for providing conversational
// context to models (excludes partials and non-conversational roles).
func (s *Session) ConversationHistory() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := map[string]bool{"user": true, "assistant": true, "tool": true}

	res := make([]Event, 0, len(s.Events))
	for _, ev := range s.Events {
		if ev.Content == nil || !allowed[ev.Content.Role] || ev.IsPartial() {
			continue
		}
		res = append(res, ev)
	}

	return res
}

// Snapshot returns a copy of all three scopes.
func (s *Session) Snapshot() StateDelta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StateDelta{
		ScopeSession: maps.Clone(s.State),
		ScopeUser:    maps.Clone(s.UserState),
		ScopeTemp:    maps.Clone(s.TempState),
	}
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Session{
		ID:        s.ID,
		UserID:    s.UserID,
		AppName:   s.AppName,
		State:     make(map[string]any, len(s.State)),
		UserState: make(map[string]any, len(s.UserState)),
		TempState: make(map[string]any, len(s.TempState)),
		Events:    make([]Event, len(s.Events)),
		Created:   s.Created,
		Updated:   s.Updated,
		Metadata:  make(map[string]string, len(s.Metadata)),
	}

	maps.Copy(clone.State, s.State)
	maps.Copy(clone.UserState, s.UserState)
	maps.Copy(clone.TempState, s.TempState)
	copy(clone.Events, s.Events)
	maps.Copy(clone.Metadata, s.Metadata)

	return clone
}

// CreateSessionRequest describes a session to be created.
type CreateSessionRequest struct {
	// ID is generated when empty.
	ID      string
	UserID  string
	AppName string
	// State seeds the session and user scopes. Temp writes are ignored.
	State StateDelta
}

// SessionStore persists sessions and their evolving state / event history.
//
// AppendEvent must merge the persistent part of the event's StateDelta and
// append the event to the history atomically, serialized per session. User
// scoped writes are merged into the state shared by every session of the
// owning user. Implementations must never persist the temp scope.
type SessionStore interface {
	Create(ctx context.Context, req CreateSessionRequest) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	AppendEvent(ctx context.Context, sessionID string, ev Event) error
	List(ctx context.Context, userID string) ([]*Session, error)
}

// PersistableEvent returns a copy of ev whose delta excludes the temp scope.
func PersistableEvent(ev Event) Event {
	ev.Actions.StateDelta = ev.Actions.StateDelta.Persistent()
	return ev
}
