// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/missionops/voicesync/internal/domain/session/model"
)

// blockingStore lets tests hold the worker inside a write.
type blockingStore struct {
	DurableStore
	mu       sync.Mutex
	appended []model.Snapshot
	gate     chan struct{}
	failWith error
}

func (s *blockingStore) AppendSnapshot(ctx context.Context, snap model.Snapshot) error {
	if s.gate != nil {
		<-s.gate
	}
	if s.failWith != nil {
		return s.failWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, snap)
	return nil
}

func (s *blockingStore) snapshots() []model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Snapshot(nil), s.appended...)
}

func TestSnapshotWorkerWritesJobs(t *testing.T) {
	store := &blockingStore{}
	w := newSnapshotWorker(store, 8, zerolog.Nop())
	w.start()

	for i := 0; i < 3; i++ {
		w.enqueue(model.Snapshot{SessionID: "s1", TranscriptCount: i})
	}
	w.close()

	snaps := store.snapshots()
	require.Len(t, snaps, 3)
	require.Equal(t, 0, snaps[0].TranscriptCount)
	require.Equal(t, 2, snaps[2].TranscriptCount)
}

func TestSnapshotWorkerDropsWhenFull(t *testing.T) {
	store := &blockingStore{gate: make(chan struct{})}
	w := newSnapshotWorker(store, 1, zerolog.Nop())
	w.start()

	// First job occupies the worker, second fills the queue, third drops.
	w.enqueue(model.Snapshot{SessionID: "a"})
	time.Sleep(20 * time.Millisecond)
	w.enqueue(model.Snapshot{SessionID: "b"})
	w.enqueue(model.Snapshot{SessionID: "c"})

	close(store.gate)
	w.close()

	snaps := store.snapshots()
	require.Len(t, snaps, 2, "the third snapshot must be dropped, not queued")
}

func TestSnapshotWorkerSurvivesWriteFailures(t *testing.T) {
	store := &blockingStore{failWith: errors.New("disk gone")}
	w := newSnapshotWorker(store, 8, zerolog.Nop())
	w.start()

	w.enqueue(model.Snapshot{SessionID: "s1"})
	w.enqueue(model.Snapshot{SessionID: "s2"})
	w.close()
	// Reaching here without panic or deadlock is the assertion: failures
	// are logged, never propagated.
}

func TestSnapshotWorkerShutdownLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &blockingStore{}
	w := newSnapshotWorker(store, 4, zerolog.Nop())
	w.start()
	w.enqueue(model.Snapshot{SessionID: "s1"})
	w.close()
	w.close() // idempotent
}
