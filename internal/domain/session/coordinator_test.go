// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/missionops/voicesync/internal/bus"
	"github.com/missionops/voicesync/internal/cache"
	"github.com/missionops/voicesync/internal/domain/session/model"
	"github.com/missionops/voicesync/internal/domain/session/store"
)

type testEnv struct {
	mr      *miniredis.Miniredis
	cache   cache.Store
	durable *store.SqliteStore
	events  *bus.MemoryBus
	coord   *Coordinator
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	cacheStore, err := cache.NewRedisStore(cache.RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheStore.Close() })

	durable, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = durable.Close() })

	events := bus.NewMemoryBus()
	t.Cleanup(func() { _ = events.Close() })

	coord := NewCoordinator(cacheStore, durable, events, opts)
	t.Cleanup(func() { _ = coord.Close() })

	return &testEnv{mr: mr, cache: cacheStore, durable: durable, events: events, coord: coord}
}

func TestCreateThenRead(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	state, err := env.coord.Create(ctx, "U1", "D1", map[string]any{"mission": "alpha"})
	require.NoError(t, err)
	require.Equal(t, model.AgentIdle, state.AgentState)
	require.True(t, state.IsActive)

	got, err := env.coord.Get(ctx, state.SessionID)
	require.NoError(t, err)
	require.Equal(t, []string{"D1"}, got.DeviceIDs)
	require.Equal(t, model.AgentIdle, got.AgentState)
	require.Equal(t, "alpha", got.Metadata["mission"])
}

func TestCreateValidatesInput(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	_, err := env.coord.Create(ctx, "", "D1", nil)
	require.ErrorIs(t, err, model.ErrValidation)
	_, err = env.coord.Create(ctx, "U1", "", nil)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestGetUnknownSession(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.coord.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestEndToEndDeviceLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	state, err := env.coord.Create(ctx, "U1", "D1", nil)
	require.NoError(t, err)
	id := state.SessionID

	listening := model.AgentListening
	_, err = env.coord.Update(ctx, id, model.Update{AgentState: &listening})
	require.NoError(t, err)

	got, err := env.coord.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.AgentListening, got.AgentState)

	got, err = env.coord.AddDevice(ctx, id, "D2")
	require.NoError(t, err)
	require.Equal(t, []string{"D1", "D2"}, got.DeviceIDs)

	got, err = env.coord.RemoveDevice(ctx, id, "D1")
	require.NoError(t, err)
	require.Equal(t, []string{"D2"}, got.DeviceIDs)
	require.True(t, got.IsActive)

	got, err = env.coord.RemoveDevice(ctx, id, "D2")
	require.NoError(t, err)
	require.Empty(t, got.DeviceIDs)
	require.False(t, got.IsActive)
}

func TestUpdateDoesNotReactivate(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	state, err := env.coord.Create(ctx, "U1", "D1", nil)
	require.NoError(t, err)
	id := state.SessionID

	_, err = env.coord.RemoveDevice(ctx, id, "D1")
	require.NoError(t, err)

	got, err := env.coord.Update(ctx, id, model.Update{Metadata: map[string]any{"k": "v"}})
	require.NoError(t, err)
	require.False(t, got.IsActive, "an ordinary update must never re-assert activity")
}

func TestAddDeviceIsIdempotent(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	state, err := env.coord.Create(ctx, "U1", "D1", nil)
	require.NoError(t, err)

	got, err := env.coord.AddDevice(ctx, state.SessionID, "D1")
	require.NoError(t, err)
	require.Equal(t, []string{"D1"}, got.DeviceIDs)
}

func TestOfflineQueueOrderAndDrain(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	state, err := env.coord.Create(ctx, "U1", "D1", nil)
	require.NoError(t, err)
	id := state.SessionID

	a1 := model.OfflineAction{Type: "transcript", Payload: map[string]any{"text": "one"}}
	a2 := model.OfflineAction{Type: "transcript", Payload: map[string]any{"text": "two"}}
	require.NoError(t, env.coord.QueueOfflineAction(ctx, id, a1))
	require.NoError(t, env.coord.QueueOfflineAction(ctx, id, a2))

	actions, err := env.coord.ReplayOfflineQueue(ctx, id)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	require.Equal(t, "one", actions[0].Payload["text"])
	require.Equal(t, "two", actions[1].Payload["text"])
	require.False(t, actions[0].EnqueuedAt.IsZero())

	// A second drain on the same session returns [].
	actions, err = env.coord.ReplayOfflineQueue(ctx, id)
	require.NoError(t, err)
	require.Empty(t, actions)
}

func TestQueueOfflineActionValidates(t *testing.T) {
	env := newTestEnv(t, Options{})

	err := env.coord.QueueOfflineAction(context.Background(), "s", model.OfflineAction{})
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestQueueTTLIndependentOfSession(t *testing.T) {
	env := newTestEnv(t, Options{QueueTTL: 24 * time.Hour})
	ctx := context.Background()

	state, err := env.coord.Create(ctx, "U1", "D1", nil)
	require.NoError(t, err)
	id := state.SessionID

	require.NoError(t, env.coord.QueueOfflineAction(ctx, id, model.OfflineAction{Type: "x"}))
	require.NoError(t, env.coord.End(ctx, id))

	require.Equal(t, 24*time.Hour, env.mr.TTL(cache.QueueKey(id)))

	actions, err := env.coord.ReplayOfflineQueue(ctx, id)
	require.NoError(t, err)
	require.Len(t, actions, 1, "queued actions outlive session end")
}

func TestEndShortensTTLAndDeactivates(t *testing.T) {
	env := newTestEnv(t, Options{StateTTL: time.Hour, GraceTTL: 5 * time.Minute})
	ctx := context.Background()

	state, err := env.coord.Create(ctx, "U1", "D1", nil)
	require.NoError(t, err)
	id := state.SessionID

	sub := env.events.Subscribe(bus.TopicSession)
	defer func() { _ = sub.Close() }()

	require.NoError(t, env.coord.End(ctx, id))

	// The cache entry survives with the grace TTL for fast reconnects.
	require.Equal(t, 5*time.Minute, env.mr.TTL(cache.StateKey(id)))

	got, err := env.coord.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	row, err := env.durable.GetSession(ctx, id)
	require.NoError(t, err)
	require.False(t, row.IsActive)

	// A final snapshot was written synchronously.
	snap, err := env.durable.LatestSnapshot(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, snap)

	select {
	case evt := <-sub.C():
		require.Equal(t, "session_ended", evt.Type)
		require.Equal(t, id, evt.Data["session_id"])
	case <-time.After(time.Second):
		t.Fatal("expected session_ended event")
	}
}

func TestReconnectRestoresActivityAndReplaysQueue(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	state, err := env.coord.Create(ctx, "U1", "D1", nil)
	require.NoError(t, err)
	id := state.SessionID

	require.NoError(t, env.coord.QueueOfflineAction(ctx, id, model.OfflineAction{Type: "note"}))
	require.NoError(t, env.coord.End(ctx, id))

	got, actions, err := env.coord.Reconnect(ctx, id, "D2")
	require.NoError(t, err)
	require.True(t, got.IsActive)
	require.Contains(t, got.DeviceIDs, "D2")
	require.Len(t, actions, 1)

	// TTL is back to the active window.
	require.Equal(t, time.Hour, env.mr.TTL(cache.StateKey(id)))

	row, err := env.durable.GetSession(ctx, id)
	require.NoError(t, err)
	require.True(t, row.IsActive, "reconnect reactivates the durable row")
}

func TestBumpTranscriptIsMonotonic(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	state, err := env.coord.Create(ctx, "U1", "D1", nil)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		got, err := env.coord.BumpTranscript(ctx, state.SessionID)
		require.NoError(t, err)
		require.Equal(t, i, got.TranscriptCount)
	}
}

func TestReadFallsBackToDurableSnapshot(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	state, err := env.coord.Create(ctx, "U1", "D1", nil)
	require.NoError(t, err)
	id := state.SessionID

	thinking := model.AgentThinking
	_, err = env.coord.Update(ctx, id, model.Update{AgentState: &thinking})
	require.NoError(t, err)

	// Drain the async snapshot queue, then lose the cache entry.
	require.NoError(t, env.coord.Close())
	env.mr.Del(cache.StateKey(id))

	fresh := NewCoordinator(env.cache, env.durable, env.events, Options{})
	defer func() { _ = fresh.Close() }()

	got, err := fresh.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.AgentThinking, got.AgentState, "state restored from latest snapshot")
	require.Equal(t, []string{"D1"}, got.DeviceIDs)

	// The read repopulated the cache.
	require.True(t, env.mr.Exists(cache.StateKey(id)))
}

func TestReadSynthesizesFreshStateWithoutSnapshots(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	// A durable row with no snapshot history and no cache entry.
	require.NoError(t, env.durable.InsertSession(ctx, model.Row{
		SessionID: "bare", UserID: "U9", IsActive: true,
		Metadata: map[string]any{"seed": "yes"}, CreatedAt: now, UpdatedAt: now,
	}))

	got, err := env.coord.Get(ctx, "bare")
	require.NoError(t, err)
	require.Equal(t, model.AgentIdle, got.AgentState)
	require.Equal(t, 0, got.TranscriptCount)
	require.Equal(t, "yes", got.Metadata["seed"])
	require.Empty(t, got.DeviceIDs)
}

func TestSnapshotsRequiresKnownSession(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.coord.Snapshots(context.Background(), "ghost", 10)
	require.ErrorIs(t, err, model.ErrNotFound)
}
