package session

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/hupe1980/meshflow/core"
)

type sessionEntry struct {
	mu   sync.Mutex
	sess *core.Session
}

type userEntry struct {
	mu    sync.Mutex
	state map[string]any
}

// InMemoryStore is a volatile SessionStore implementation storing sessions
// in a process local map. Appends are serialized per session (and user scope
// merges per user); the map lock is held only for lookups, so unrelated
// sessions never contend. Each returned session is cloned to prevent external
// mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	users    map[string]*userEntry
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*sessionEntry),
		users:    make(map[string]*userEntry),
	}
}

// Create stores a new session seeded with the request's session and user state.
func (s *InMemoryStore) Create(_ context.Context, req core.CreateSessionRequest) (*core.Session, error) {
	id := req.ID
	if id == "" {
		id = core.NewID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return nil, core.ErrSessionExists
	}

	sess := core.NewSession(id, req.UserID)
	sess.AppName = req.AppName
	maps.Copy(sess.State, req.State[core.ScopeSession])

	u := s.userLocked(req.UserID)
	u.mu.Lock()
	maps.Copy(u.state, req.State[core.ScopeUser])
	u.mu.Unlock()

	s.sessions[id] = &sessionEntry{sess: sess}

	return s.snapshot(sess, u, true), nil
}

// Get returns a clone of the session with the owner's user state attached.
func (s *InMemoryStore) Get(_ context.Context, id string) (*core.Session, error) {
	e, u, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return s.snapshot(e.sess, u, true), nil
}

// AppendEvent merges the persistent part of the event delta and appends the
// event in one critical section.
func (s *InMemoryStore) AppendEvent(ctx context.Context, id string, ev core.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ev.IsPartial() {
		return nil
	}

	e, u, err := s.lookup(id)
	if err != nil {
		return err
	}

	ev = core.PersistableEvent(ev)

	e.mu.Lock()
	defer e.mu.Unlock()

	if userDelta := ev.Actions.StateDelta[core.ScopeUser]; len(userDelta) > 0 {
		u.mu.Lock()
		maps.Copy(u.state, userDelta)
		u.mu.Unlock()
	}

	// User scoped values are served from the user entry; the copy merged
	// into the session here is replaced on every read.
	e.sess.ApplyEvent(ev)

	return nil
}

// List returns the sessions of userID ordered by creation time. Histories are omitted.
func (s *InMemoryStore) List(_ context.Context, userID string) ([]*core.Session, error) {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	u := s.users[userID]
	s.mu.RUnlock()

	out := []*core.Session{}

	for _, e := range entries {
		e.mu.Lock()
		if e.sess.UserID == userID {
			out = append(out, s.snapshot(e.sess, u, false))
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })

	return out, nil
}

func (s *InMemoryStore) lookup(id string) (*sessionEntry, *userEntry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	var u *userEntry
	if ok {
		u = s.users[e.sess.UserID]
	}
	s.mu.RUnlock()

	if !ok {
		return nil, nil, core.ErrSessionNotFound
	}

	return e, u, nil
}

// userLocked returns the entry for userID; caller must hold the write lock.
func (s *InMemoryStore) userLocked(userID string) *userEntry {
	u, ok := s.users[userID]
	if !ok {
		u = &userEntry{state: map[string]any{}}
		s.users[userID] = u
	}
	return u
}

func (s *InMemoryStore) snapshot(sess *core.Session, u *userEntry, withEvents bool) *core.Session {
	c := sess.Clone()
	if !withEvents {
		c.Events = []core.Event{}
	}

	if u != nil {
		u.mu.Lock()
		c.UserState = maps.Clone(u.state)
		u.mu.Unlock()
	}

	return c
}
