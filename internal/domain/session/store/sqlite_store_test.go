// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/missionops/voicesync/internal/domain/session/model"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	row := model.Row{
		SessionID: "s1",
		UserID:    "u1",
		IsActive:  true,
		Metadata:  map[string]any{"locale": "en"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.InsertSession(ctx, row))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "u1", got.UserID)
	require.True(t, got.IsActive)
	require.Equal(t, "en", got.Metadata["locale"])
	require.Equal(t, now, got.CreatedAt)
}

func TestGetSessionAbsent(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetSession(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestInsertSessionDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	row := model.Row{SessionID: "s1", UserID: "u1", IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.InsertSession(ctx, row))
	require.Error(t, s.InsertSession(ctx, row))
}

func TestDeactivateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertSession(ctx, model.Row{SessionID: "s1", UserID: "u1", IsActive: true, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.DeactivateSession(ctx, "s1", now.Add(time.Minute)))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.False(t, got.IsActive)

	require.ErrorIs(t, s.DeactivateSession(ctx, "ghost", now), model.ErrNotFound)
}

func TestSnapshotHistoryOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.InsertSession(ctx, model.Row{SessionID: "s1", UserID: "u1", IsActive: true, CreatedAt: base, UpdatedAt: base}))

	latest, err := s.LatestSnapshot(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, latest, "no snapshots yet")

	for i := 0; i < 3; i++ {
		snap := model.Snapshot{
			SessionID:       "s1",
			AgentState:      model.AgentListening,
			TranscriptCount: i,
			Metadata:        map[string]any{"n": i},
			DeviceIDs:       []string{"d1"},
			CreatedAt:       base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.AppendSnapshot(ctx, snap))
	}

	latest, err = s.LatestSnapshot(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, 2, latest.TranscriptCount)
	require.Equal(t, model.AgentListening, latest.AgentState)
	require.Equal(t, []string{"d1"}, latest.DeviceIDs)

	history, err := s.ListSnapshots(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, 2, history[0].TranscriptCount, "most recent first")
	require.Equal(t, 0, history[2].TranscriptCount)
}

func TestLatestSnapshotTieBreaksOnInsertOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.InsertSession(ctx, model.Row{SessionID: "s1", UserID: "u1", IsActive: true, CreatedAt: ts, UpdatedAt: ts}))

	// Two snapshots with identical timestamps: the later insert wins.
	for i := 0; i < 2; i++ {
		require.NoError(t, s.AppendSnapshot(ctx, model.Snapshot{
			SessionID: "s1", AgentState: model.AgentIdle, TranscriptCount: i, CreatedAt: ts,
		}))
	}

	latest, err := s.LatestSnapshot(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, latest.TranscriptCount)
}
