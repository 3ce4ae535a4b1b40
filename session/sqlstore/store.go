// Package sqlstore implements core.SessionStore on relational databases
// through gorm. SQLite (pure Go), PostgreSQL and MySQL are supported.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hupe1980/meshflow/core"
)

type sessionRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"index;size:128"`
	AppName   string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRecord) TableName() string { return "sessions" }

type stateRecord struct {
	SessionID string `gorm:"primaryKey;size:64"`
	StateKey  string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:text"`
}

func (stateRecord) TableName() string { return "session_states" }

type userStateRecord struct {
	UserID   string `gorm:"primaryKey;size:128"`
	StateKey string `gorm:"primaryKey;size:191"`
	Value    string `gorm:"type:text"`
}

func (userStateRecord) TableName() string { return "user_states" }

type eventRecord struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;size:64"`
	EventID   string `gorm:"size:64"`
	Data      string `gorm:"type:text"`
	CreatedAt time.Time
}

func (eventRecord) TableName() string { return "session_events" }

// Store implements core.SessionStore using gorm.
type Store struct {
	db    *gorm.DB
	locks sync.Map // session id -> *sync.Mutex
}

// Open connects to the database identified by driver ("sqlite", "postgres"
// or "mysql") and dsn, migrates the schema and returns a store.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector

	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// SQLite allows a single writer; serialize through one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db)
}

// New wraps an existing gorm handle and migrates the schema. It turns on
// gorm error translation so a duplicate session id maps to
// core.ErrSessionExists.
func New(db *gorm.DB) (*Store, error) {
	db.Config.TranslateError = true

	if err := db.AutoMigrate(&sessionRecord{}, &stateRecord{}, &userStateRecord{}, &eventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts a new session seeded with the request's session and user state.
func (s *Store) Create(ctx context.Context, req core.CreateSessionRequest) (*core.Session, error) {
	id := req.ID
	if id == "" {
		id = core.NewID()
	}

	// The primary key is the only existence check; a read-then-insert would
	// race with concurrent creates of the same id.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Create(&sessionRecord{ID: id, UserID: req.UserID, AppName: req.AppName, CreatedAt: now, UpdatedAt: now}).Error; err != nil {
			return err
		}

		return s.mergeLocked(tx, id, req.UserID, req.State)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, core.ErrSessionExists
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return s.Get(ctx, id)
}

// Get loads the session, its history and the owner's user scope.
func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	db := s.db.WithContext(ctx)

	sess, err := s.load(db, id)
	if err != nil {
		return nil, err
	}

	var events []eventRecord
	if err := db.Where("session_id = ?", id).Order("seq ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	for _, rec := range events {
		var ev core.Event
		if err := json.Unmarshal([]byte(rec.Data), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", rec.EventID, err)
		}

		sess.Events = append(sess.Events, ev)
	}

	return sess, nil
}

// AppendEvent merges the persistent delta and appends the event in one transaction.
func (s *Store) AppendEvent(ctx context.Context, id string, ev core.Event) error {
	if ev.IsPartial() {
		return nil
	}

	ev = core.PersistableEvent(ev)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var rec sessionRecord
		if err := q.Where("id = ?", id).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrSessionNotFound
			}
			return err
		}

		if err := s.mergeLocked(tx, id, rec.UserID, ev.Actions.StateDelta); err != nil {
			return err
		}

		if err := tx.Create(&eventRecord{SessionID: id, EventID: ev.ID, Data: string(data), CreatedAt: ev.Timestamp}).Error; err != nil {
			return err
		}

		return tx.Model(&sessionRecord{}).Where("id = ?", id).Update("updated_at", time.Now().UTC()).Error
	})
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
	db := s.db.WithContext(ctx)

	var recs []sessionRecord
	if err := db.Where("user_id = ?", userID).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]*core.Session, 0, len(recs))

	for _, rec := range recs {
		sess, err := s.load(db, rec.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}

	return out, nil
}

func (s *Store) lock(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Store) load(db *gorm.DB, id string) (*core.Session, error) {
	var rec sessionRecord
	if err := db.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess := core.NewSession(rec.ID, rec.UserID)
	sess.AppName = rec.AppName
	sess.Created = rec.CreatedAt.UTC()
	sess.Updated = rec.UpdatedAt.UTC()

	var states []stateRecord
	if err := db.Where("session_id = ?", id).Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	for _, st := range states {
		v, err := decodeValue(st.StateKey, st.Value)
		if err != nil {
			return nil, err
		}
		sess.State[st.StateKey] = v
	}

	var users []userStateRecord
	if err := db.Where("user_id = ?", rec.UserID).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load user state: %w", err)
	}

	for _, st := range users {
		v, err := decodeValue(st.StateKey, st.Value)
		if err != nil {
			return nil, err
		}
		sess.UserState[st.StateKey] = v
	}

	return sess, nil
}

// mergeLocked upserts the session and user scoped writes of delta.
func (s *Store) mergeLocked(tx *gorm.DB, id, userID string, delta core.StateDelta) error {
	if m := delta[core.ScopeSession]; len(m) > 0 {
		recs := make([]stateRecord, 0, len(m))

		for k, v := range m {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to marshal state %q: %w", k, err)
			}
			recs = append(recs, stateRecord{SessionID: id, StateKey: k, Value: string(raw)})
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "state_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&recs).Error; err != nil {
			return err
		}
	}

	if m := delta[core.ScopeUser]; len(m) > 0 {
		recs := make([]userStateRecord, 0, len(m))

		for k, v := range m {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to marshal state %q: %w", k, err)
			}
			recs = append(recs, userStateRecord{UserID: userID, StateKey: k, Value: string(raw)})
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "state_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&recs).Error; err != nil {
			return err
		}
	}

	return nil
}

func decodeValue(key, raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state %q: %w", key, err)
	}
	return v, nil
}
