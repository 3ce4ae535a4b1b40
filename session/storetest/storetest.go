// Package storetest provides a contract test-suite every core.SessionStore
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/core"
)

// Factory returns a fresh, empty store for a single sub-test.
type Factory func(t *testing.T) core.SessionStore

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("AppendMergesScopes", func(t *testing.T) { testAppendMergesScopes(t, newStore(t)) })
	t.Run("UserScopeShared", func(t *testing.T) { testUserScopeShared(t, newStore(t)) })
	t.Run("ConcurrentCreates", func(t *testing.T) { testConcurrentCreates(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
	t.Run("HistoryRoundTrip", func(t *testing.T) { testHistoryRoundTrip(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	seed := core.NewStateDelta()
	seed.Set(core.SessionKey("topic"), "go")
	seed.Set(core.UserKey("lang"), "en")
	seed.Set(core.TempKey("scratch"), "dropped")

	created, err := store.Create(ctx, core.CreateSessionRequest{ID: "s-1", UserID: "u-1", AppName: "demo", State: seed})
	require.NoError(t, err)
	assert.Equal(t, "s-1", created.ID)

	_, err = store.Create(ctx, core.CreateSessionRequest{ID: "s-1", UserID: "u-1"})
	assert.ErrorIs(t, err, core.ErrSessionExists)

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "demo", got.AppName)

	v, ok := got.Lookup(core.SessionKey("topic"))
	require.True(t, ok)
	assert.Equal(t, "go", v)

	v, ok = got.Lookup(core.UserKey("lang"))
	require.True(t, ok)
	assert.Equal(t, "en", v)

	_, ok = got.Lookup(core.TempKey("scratch"))
	assert.False(t, ok, "temp scope is never persisted")

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	generated, err := store.Create(ctx, core.CreateSessionRequest{UserID: "u-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}

func testAppendMergesScopes(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	_, err := store.Create(ctx, core.CreateSessionRequest{ID: "s-1", UserID: "u-1"})
	require.NoError(t, err)

	ev := core.NewMessageEvent("run-1", "writer", "draft ready")
	ev.SetState(core.SessionKey("draft"), "v1")
	ev.SetState(core.UserKey("last_topic"), "orchestration")
	ev.SetState(core.TempKey("attempt"), "1")
	require.NoError(t, store.AppendEvent(ctx, "s-1", ev))

	partial := core.NewMessageEvent("run-1", "writer", "dra")
	p := true
	partial.Partial = &p
	partial.SetState(core.SessionKey("partial"), true)
	require.NoError(t, store.AppendEvent(ctx, "s-1", partial))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)

	v, ok := got.Lookup(core.SessionKey("draft"))
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	v, ok = got.Lookup(core.UserKey("last_topic"))
	require.True(t, ok)
	assert.Equal(t, "orchestration", v)

	_, ok = got.Lookup(core.TempKey("attempt"))
	assert.False(t, ok)

	_, ok = got.Lookup(core.SessionKey("partial"))
	assert.False(t, ok, "partial events are not persisted")

	history := got.History()
	require.Len(t, history, 1)
	assert.Equal(t, ev.ID, history[0].ID)

	_, ok = history[0].Actions.StateDelta.Get(core.TempKey("attempt"))
	assert.False(t, ok, "persisted history carries no temp writes")

	assert.ErrorIs(t, store.AppendEvent(ctx, "missing", ev), core.ErrSessionNotFound)
}

func testUserScopeShared(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	for _, req := range []core.CreateSessionRequest{
		{ID: "a-1", UserID: "alice"},
		{ID: "a-2", UserID: "alice"},
		{ID: "b-1", UserID: "bob"},
	} {
		_, err := store.Create(ctx, req)
		require.NoError(t, err)
	}

	ev := core.NewEvent("run-1", "profile")
	ev.SetState(core.UserKey("tier"), "gold")
	require.NoError(t, store.AppendEvent(ctx, "a-1", ev))

	sibling, err := store.Get(ctx, "a-2")
	require.NoError(t, err)

	v, ok := sibling.Lookup(core.UserKey("tier"))
	require.True(t, ok)
	assert.Equal(t, "gold", v)

	_, ok = sibling.Lookup(core.SessionKey("tier"))
	assert.False(t, ok)

	other, err := store.Get(ctx, "b-1")
	require.NoError(t, err)

	_, ok = other.Lookup(core.UserKey("tier"))
	assert.False(t, ok, "user scope does not leak across users")
}

func testConcurrentCreates(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	const creators = 8

	var wg sync.WaitGroup

	errs := make(chan error, creators)

	for i := 0; i < creators; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_, err := store.Create(ctx, core.CreateSessionRequest{ID: "s-1", UserID: fmt.Sprintf("u-%d", i)})
			errs <- err
		}(i)
	}

	wg.Wait()
	close(errs)

	created := 0

	for err := range errs {
		if err == nil {
			created++
			continue
		}

		assert.ErrorIs(t, err, core.ErrSessionExists)
	}

	assert.Equal(t, 1, created)
}

func testConcurrentAppends(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	_, err := store.Create(ctx, core.CreateSessionRequest{ID: "s-1", UserID: "u-1"})
	require.NoError(t, err)

	const writers = 20

	var wg sync.WaitGroup

	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			ev := core.NewEvent("run-1", fmt.Sprintf("w%d", i))
			ev.SetState(core.SessionKey(fmt.Sprintf("k%d", i)), fmt.Sprintf("v%d", i))
			ev.SetState(core.SessionKey("last"), fmt.Sprintf("v%d", i))
			errs <- store.AppendEvent(ctx, "s-1", ev)
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, got.History(), writers)

	state := got.StateOf(core.ScopeSession)
	for i := 0; i < writers; i++ {
		assert.Equal(t, fmt.Sprintf("v%d", i), state[fmt.Sprintf("k%d", i)])
	}

	// The shared key holds the value of whichever append committed last.
	history := got.History()
	lastAuthor := history[len(history)-1].Author
	assert.Equal(t, "v"+lastAuthor[1:], state["last"])
}

func testHistoryRoundTrip(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	_, err := store.Create(ctx, core.CreateSessionRequest{ID: "s-1", UserID: "u-1"})
	require.NoError(t, err)

	call := core.NewFunctionCallEvent("run-1", "booker", "call-1", "book_flight", `{"to":"BER"}`)
	resp := core.NewFunctionResponseEvent("run-1", "booker", "call-1", "book_flight", "confirmed", nil)
	data := core.NewEvent("run-1", "runner")
	data.Content = &core.Content{Role: "system", Parts: []core.Part{core.DataPart{Data: map[string]any{"ok": true}}}}
	data.Status = core.StatusCompleted
	data.Final = true

	for _, ev := range []core.Event{call, resp, data} {
		require.NoError(t, store.AppendEvent(ctx, "s-1", ev))
	}

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)

	history := got.History()
	require.Len(t, history, 3)

	assert.Equal(t, "book_flight", history[0].GetFunctionCalls()[0].Name)
	assert.Equal(t, "confirmed", history[1].GetFunctionResponses()[0].Response)
	require.NotNil(t, history[2].Content)
	assert.IsType(t, core.DataPart{}, history[2].Content.Parts[0])
	assert.True(t, history[2].Final)
	assert.Equal(t, core.StatusCompleted, history[2].Status)
	assert.WithinDuration(t, call.Timestamp, history[0].Timestamp, time.Millisecond)
}

func testList(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	for _, req := range []core.CreateSessionRequest{
		{ID: "a-1", UserID: "alice"},
		{ID: "a-2", UserID: "alice"},
		{ID: "b-1", UserID: "bob"},
	} {
		_, err := store.Create(ctx, req)
		require.NoError(t, err)
	}

	list, err := store.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)

	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{"a-1", "a-2"}, ids)

	none, err := store.List(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}
