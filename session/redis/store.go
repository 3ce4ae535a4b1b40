// Package redis implements core.SessionStore on top of Redis.
//
// Layout per session (all keys share the configured prefix):
//
//	session:<id>         hash   id, user_id, app_name, created, updated
//	state:<id>           hash   session scope, JSON encoded values
//	events:<id>          list   JSON encoded events in commit order
//	user:<user_id>       hash   user scope shared by the user's sessions
//	user_sessions:<uid>  zset   session ids scored by creation time
//
// AppendEvent watches the session hash and commits the state merge together
// with the history append in one MULTI/EXEC transaction.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/hupe1980/meshflow/core"
)

const defaultMaxRetries = 100

// Store implements core.SessionStore using Redis.
type Store struct {
	client     backend.UniversalClient
	prefix     string
	ttl        time.Duration
	maxRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the expiration for session keys. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithMaxRetries bounds optimistic transaction retries on contended appends.
// The first attempt always runs; negative values mean no retries.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		s.maxRetries = max(n, 0)
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client:     client,
		prefix:     "meshflow:",
		maxRetries: defaultMaxRetries,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) sessionKey(id string) string    { return s.prefix + "session:" + id }
func (s *Store) stateKey(id string) string      { return s.prefix + "state:" + id }
func (s *Store) eventsKey(id string) string     { return s.prefix + "events:" + id }
func (s *Store) userKey(uid string) string      { return s.prefix + "user:" + uid }
func (s *Store) userIndexKey(uid string) string { return s.prefix + "user_sessions:" + uid }

// Create stores a new session. The session hash is claimed with HSETNX so
// concurrent creates of the same id cannot both succeed.
func (s *Store) Create(ctx context.Context, req core.CreateSessionRequest) (*core.Session, error) {
	id := req.ID
	if id == "" {
		id = core.NewID()
	}

	now := time.Now().UTC()

	claimed, err := s.client.HSetNX(ctx, s.sessionKey(id), "id", id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if !claimed {
		return nil, core.ErrSessionExists
	}

	sessionValues, err := encodeValues(req.State[core.ScopeSession])
	if err != nil {
		return nil, err
	}

	userValues, err := encodeValues(req.State[core.ScopeUser])
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.HSet(ctx, s.sessionKey(id),
			"user_id", req.UserID,
			"app_name", req.AppName,
			"created", now.Format(time.RFC3339Nano),
			"updated", now.Format(time.RFC3339Nano),
		)

		if len(sessionValues) > 0 {
			pipe.HSet(ctx, s.stateKey(id), sessionValues)
		}

		if len(userValues) > 0 {
			pipe.HSet(ctx, s.userKey(req.UserID), userValues)
		}

		pipe.ZAdd(ctx, s.userIndexKey(req.UserID), backend.Z{Score: float64(now.UnixNano()), Member: id})

		s.expire(ctx, pipe, id, req.UserID)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return s.Get(ctx, id)
}

// Get loads the session, its history and the owner's user scope.
func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, s.eventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	for _, r := range raw {
		var ev core.Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}

		sess.Events = append(sess.Events, ev)
	}

	return sess, nil
}

// AppendEvent merges the persistent delta and appends the event atomically.
func (s *Store) AppendEvent(ctx context.Context, id string, ev core.Event) error {
	if ev.IsPartial() {
		return nil
	}

	ev = core.PersistableEvent(ev)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	sessionValues, err := encodeValues(ev.Actions.StateDelta[core.ScopeSession])
	if err != nil {
		return err
	}

	userValues, err := encodeValues(ev.Actions.StateDelta[core.ScopeUser])
	if err != nil {
		return err
	}

	txf := func(tx *backend.Tx) error {
		userID, err := tx.HGet(ctx, s.sessionKey(id), "user_id").Result()
		if errors.Is(err, backend.Nil) {
			return core.ErrSessionNotFound
		}

		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			if len(sessionValues) > 0 {
				pipe.HSet(ctx, s.stateKey(id), sessionValues)
			}

			if len(userValues) > 0 {
				pipe.HSet(ctx, s.userKey(userID), userValues)
			}

			pipe.RPush(ctx, s.eventsKey(id), data)
			pipe.HSet(ctx, s.sessionKey(id), "updated", time.Now().UTC().Format(time.RFC3339Nano))

			s.expire(ctx, pipe, id, userID)

			return nil
		})

		return err
	}

	for attempt := 0; ; attempt++ {
		err = s.client.Watch(ctx, txf, s.sessionKey(id))
		if !errors.Is(err, backend.TxFailedErr) || attempt >= s.maxRetries {
			break
		}
	}

	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return err
		}

		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// List returns the sessions of userID ordered by creation time. Histories are omitted.
func (s *Store) List(ctx context.Context, userID string) ([]*core.Session, error) {
	ids, err := s.client.ZRange(ctx, s.userIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]*core.Session, 0, len(ids))

	for _, id := range ids {
		sess, err := s.load(ctx, id)
		if errors.Is(err, core.ErrSessionNotFound) {
			// expired
			continue
		}

		if err != nil {
			return nil, err
		}

		out = append(out, sess)
	}

	return out, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) load(ctx context.Context, id string) (*core.Session, error) {
	meta, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	if len(meta) == 0 {
		return nil, core.ErrSessionNotFound
	}

	sess := core.NewSession(id, meta["user_id"])
	sess.AppName = meta["app_name"]
	sess.Created = parseTime(meta["created"])
	sess.Updated = parseTime(meta["updated"])

	state, err := s.client.HGetAll(ctx, s.stateKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	if sess.State, err = decodeValues(state); err != nil {
		return nil, err
	}

	user, err := s.client.HGetAll(ctx, s.userKey(sess.UserID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load user state: %w", err)
	}

	if sess.UserState, err = decodeValues(user); err != nil {
		return nil, err
	}

	return sess, nil
}

func (s *Store) expire(ctx context.Context, pipe backend.Pipeliner, id, userID string) {
	if s.ttl <= 0 {
		return
	}

	for _, k := range []string{s.sessionKey(id), s.stateKey(id), s.eventsKey(id), s.userKey(userID), s.userIndexKey(userID)} {
		pipe.Expire(ctx, k, s.ttl)
	}
}

func encodeValues(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}

	out := make(map[string]any, len(m))

	for k, v := range m {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal state %q: %w", k, err)
		}

		out[k] = string(b)
	}

	return out, nil
}

func decodeValues(m map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(m))

	for k, raw := range m {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state %q: %w", k, err)
		}

		out[k] = v
	}

	return out, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if n, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
			return time.Unix(0, n).UTC()
		}
		return time.Time{}
	}
	return t
}
