// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/missionops/voicesync/internal/domain/session/model"
	xslog "github.com/missionops/voicesync/internal/log"
	"github.com/missionops/voicesync/internal/metrics"
)

const snapshotTimeout = 5 * time.Second

// snapshotWorker is the bounded background worker behind asynchronous
// durable snapshots. A full queue drops the job instead of blocking the
// caller; drops and write failures are observable through metrics and
// logs, never through the caller's error path.
type snapshotWorker struct {
	store  DurableStore
	jobs   chan model.Snapshot
	logger zerolog.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

func newSnapshotWorker(store DurableStore, depth int, logger zerolog.Logger) *snapshotWorker {
	return &snapshotWorker{
		store:  store,
		jobs:   make(chan model.Snapshot, depth),
		logger: logger.With().Str(xslog.FieldComponent, "snapshot-worker").Logger(),
	}
}

func (w *snapshotWorker) start() {
	w.wg.Add(1)
	go w.run()
}

func (w *snapshotWorker) run() {
	defer w.wg.Done()
	for snap := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		err := w.store.AppendSnapshot(ctx, snap)
		cancel()

		if err != nil {
			metrics.RecordSnapshotJob("failure")
			w.logger.Error().Err(err).
				Str(xslog.FieldSessionID, snap.SessionID).
				Msg("async snapshot write failed")
		} else {
			metrics.RecordSnapshotJob("success")
		}
		metrics.SetSnapshotQueueDepth(len(w.jobs))
	}
}

// enqueue never blocks: when the queue is full the snapshot is dropped and
// counted. The durable history is allowed to lag the cache.
func (w *snapshotWorker) enqueue(snap model.Snapshot) {
	select {
	case w.jobs <- snap:
		metrics.SetSnapshotQueueDepth(len(w.jobs))
	default:
		metrics.RecordSnapshotJob("dropped")
		w.logger.Warn().
			Str(xslog.FieldSessionID, snap.SessionID).
			Msg("snapshot queue full, dropping snapshot")
	}
}

// close drains remaining jobs and stops the worker.
func (w *snapshotWorker) close() {
	w.once.Do(func() { close(w.jobs) })
	w.wg.Wait()
}
