package core

import (
	"fmt"
	"maps"
	"strings"
)

// Scope selects the lifetime and visibility of a state key.
type Scope string

const (
	// ScopeSession keys live with the session and are visible to every run of it.
	ScopeSession Scope = "session"
	// ScopeUser keys are shared by all sessions owned by the same user.
	ScopeUser Scope = "user"
	// ScopeTemp keys exist only for the duration of a single run and are never persisted.
	ScopeTemp Scope = "temp"
)

// Scopes lists all scopes in merge order.
var Scopes = []Scope{ScopeSession, ScopeUser, ScopeTemp}

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSession, ScopeUser, ScopeTemp:
		return true
	}
	return false
}

// Persistent reports whether values in this scope survive the run.
func (s Scope) Persistent() bool { return s == ScopeSession || s == ScopeUser }

// StateKey addresses a single value in one scope.
type StateKey struct {
	Scope Scope  `json:"scope" yaml:"scope"`
	Name  string `json:"name" yaml:"name"`
}

// SessionKey returns a session scoped key.
func SessionKey(name string) StateKey { return StateKey{Scope: ScopeSession, Name: name} }

// UserKey returns a user scoped key.
func UserKey(name string) StateKey { return StateKey{Scope: ScopeUser, Name: name} }

// TempKey returns a run scoped (ephemeral) key.
func TempKey(name string) StateKey { return StateKey{Scope: ScopeTemp, Name: name} }

// ParseStateKey parses the textual "scope:name" form used in configuration
// files. A name without scope qualifier addresses the session scope.
func ParseStateKey(s string) (StateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return StateKey{}, fmt.Errorf("empty state key")
	}

	scope, name, found := strings.Cut(s, ":")
	if !found {
		return SessionKey(s), nil
	}

	k := StateKey{Scope: Scope(scope), Name: name}
	if !k.Scope.Valid() {
		return StateKey{}, fmt.Errorf("unknown state scope %q in key %q", scope, s)
	}

	if k.Name == "" {
		return StateKey{}, fmt.Errorf("state key %q has no name", s)
	}

	return k, nil
}

// IsZero reports whether the key is unset.
func (k StateKey) IsZero() bool { return k.Name == "" }

// String renders the key in its "scope:name" form.
func (k StateKey) String() string {
	if k.Scope == "" {
		return string(ScopeSession) + ":" + k.Name
	}
	return string(k.Scope) + ":" + k.Name
}

// StateDelta is a set of key/value writes grouped by scope. A delta is applied
// atomically: either every write becomes visible or none does.
type StateDelta map[Scope]map[string]any

// NewStateDelta returns an empty delta.
func NewStateDelta() StateDelta { return StateDelta{} }

// Set stages a write.
func (d StateDelta) Set(k StateKey, v any) {
	scope := k.Scope
	if scope == "" {
		scope = ScopeSession
	}

	m, ok := d[scope]
	if !ok {
		m = map[string]any{}
		d[scope] = m
	}

	m[k.Name] = v
}

// Get returns a staged value.
func (d StateDelta) Get(k StateKey) (any, bool) {
	scope := k.Scope
	if scope == "" {
		scope = ScopeSession
	}

	v, ok := d[scope][k.Name]

	return v, ok
}

// Len returns the total number of staged writes.
func (d StateDelta) Len() int {
	n := 0
	for _, m := range d {
		n += len(m)
	}
	return n
}

// Merge copies all writes from other into d. Writes in other win.
func (d StateDelta) Merge(other StateDelta) {
	for scope, m := range other {
		if len(m) == 0 {
			continue
		}

		dst, ok := d[scope]
		if !ok {
			dst = make(map[string]any, len(m))
			d[scope] = dst
		}

		maps.Copy(dst, m)
	}
}

// Clone returns a copy of the delta. Values are copied shallowly.
func (d StateDelta) Clone() StateDelta {
	if d == nil {
		return nil
	}

	c := make(StateDelta, len(d))
	for scope, m := range d {
		c[scope] = maps.Clone(m)
	}

	return c
}

// Persistent returns the subset of writes a store must persist (temp scope dropped).
func (d StateDelta) Persistent() StateDelta {
	if d == nil {
		return nil
	}

	c := make(StateDelta, len(d))
	for scope, m := range d {
		if !scope.Persistent() || len(m) == 0 {
			continue
		}
		c[scope] = maps.Clone(m)
	}

	if len(c) == 0 {
		return nil
	}

	return c
}

// StateReader exposes read access to scoped state.
type StateReader interface {
	// Lookup returns the value for key.
	Lookup(key StateKey) (any, bool)
	// StateOf returns a copy of every value in scope.
	StateOf(scope Scope) map[string]any
}

// LookupString is a convenience for reading string values. Non-string
// values are formatted with fmt.
func LookupString(r StateReader, key StateKey) (string, bool) {
	v, ok := r.Lookup(key)
	if !ok || v == nil {
		return "", false
	}

	if s, ok := v.(string); ok {
		return s, true
	}

	return fmt.Sprint(v), true
}
