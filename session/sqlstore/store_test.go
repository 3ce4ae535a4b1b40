package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/session/storetest"
)

var _ core.SessionStore = (*Store)(nil)

func setupStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open("sqlite", filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.SessionStore { return setupStore(t) })
}

func TestStore_New_InMemory(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store, err := New(db)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Create(ctx, core.CreateSessionRequest{ID: "s-1", UserID: "u-1"})
	require.NoError(t, err)

	ev := core.NewEvent("run-1", "counter")
	ev.SetState(core.SessionKey("count"), 3)
	require.NoError(t, store.AppendEvent(ctx, "s-1", ev))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)

	v, ok := got.Lookup(core.SessionKey("count"))
	require.True(t, ok)
	assert.EqualValues(t, 3, v, "numbers round-trip as JSON numbers")

	_, err = store.Create(ctx, core.CreateSessionRequest{ID: "s-1", UserID: "u-2"})
	assert.ErrorIs(t, err, core.ErrSessionExists, "duplicate key is translated on wrapped handles")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	assert.ErrorContains(t, err, "unsupported database driver")
}
