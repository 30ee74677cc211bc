// SPDX-License-Identifier: MIT

// Package notes implements the optimistic-concurrency workflow for mission
// notes: FetchVersion, CompareVersion, ConditionalWrite, Broadcast, with
// exits to Conflict and Failed. Retries apply per step to transient
// infrastructure failures only; a semantic version conflict is terminal
// and never retried.
package notes

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/missionops/voicesync/internal/bus"
	"github.com/missionops/voicesync/internal/domain/notes/model"
	xslog "github.com/missionops/voicesync/internal/log"
	"github.com/missionops/voicesync/internal/metrics"
)

// Step names of the workflow state machine.
const (
	StepFetchVersion     = "fetch_version"
	StepCompareVersion   = "compare_version"
	StepConditionalWrite = "conditional_write"
	StepBroadcast        = "broadcast"
)

// VersionStore is the durable-store abstraction behind the workflow. Its
// ConditionalWrite must be atomic: only one writer observing a given
// version may succeed in advancing it.
type VersionStore interface {
	FetchVersion(ctx context.Context, missionID, noteID string) (int64, error)
	GetNote(ctx context.Context, missionID, noteID string) (*model.Note, error)
	ConditionalWrite(ctx context.Context, req model.UpdateRequest) (model.UpdateResult, error)
}

// RetryPolicy bounds per-step retries of transient failures.
type RetryPolicy struct {
	InitialInterval    time.Duration
	MaxInterval        time.Duration
	BackoffCoefficient float64
	MaxAttempts        int
}

// DefaultRetryPolicy mirrors the production tuning: 100ms initial, doubled
// per attempt, capped at 1s, 3 attempts total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    100 * time.Millisecond,
		MaxInterval:        time.Second,
		BackoffCoefficient: 2.0,
		MaxAttempts:        3,
	}
}

// Options tunes workflow behaviour. Zero values select the defaults.
type Options struct {
	Retry          RetryPolicy
	FetchTimeout   time.Duration // per FetchVersion attempt (default 5s)
	WriteTimeout   time.Duration // per ConditionalWrite attempt (default 10s)
	PublishTimeout time.Duration // per Broadcast attempt (default 5s)
	Clock          func() time.Time
	// Sleep is the backoff sleeper; injectable so tests run without
	// real delays. It must honour context cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Workflow executes conditional note updates. It is stateless and safe for
// concurrent use; every invocation is an independent run of the state
// machine.
type Workflow struct {
	store  VersionStore
	events bus.Bus
	opts   Options
	logger zerolog.Logger
}

// NewWorkflow wires a workflow over the given store and broadcaster.
func NewWorkflow(store VersionStore, events bus.Bus, opts Options) *Workflow {
	return &Workflow{
		store:  store,
		events: events,
		opts:   opts.withDefaults(),
		logger: xslog.WithComponent("note-workflow"),
	}
}

// Get reads the current note, nil when it does not exist yet.
func (w *Workflow) Get(ctx context.Context, missionID, noteID string) (*model.Note, error) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.FetchTimeout)
	defer cancel()
	return w.store.GetNote(ctx, missionID, noteID)
}

// Submit runs one update through the state machine. Semantic conflicts
// come back in the result with the authoritative current version; only
// infrastructure failures that survive the retry policy become errors.
func (w *Workflow) Submit(ctx context.Context, req model.UpdateRequest) (model.UpdateResult, error) {
	if err := req.Validate(); err != nil {
		return model.UpdateResult{}, err
	}

	logger := w.logger.With().
		Str(xslog.FieldMissionID, req.MissionID).
		Str(xslog.FieldNoteID, req.NoteID).
		Int64("expected_version", req.ExpectedVersion).
		Logger()

	// FetchVersion
	var fetched int64
	err := w.retry(ctx, StepFetchVersion, w.opts.FetchTimeout, func(stepCtx context.Context) error {
		var err error
		fetched, err = w.store.FetchVersion(stepCtx, req.MissionID, req.NoteID)
		return err
	})
	if err != nil {
		return model.UpdateResult{}, err
	}

	// CompareVersion: bail out before any mutation.
	if fetched != req.ExpectedVersion {
		metrics.IncNoteConflict()
		logger.Info().
			Int64("current_version", fetched).
			Msg("version conflict detected before write")
		return model.ConflictResult(req.ExpectedVersion, fetched), nil
	}

	// ConditionalWrite: the store re-validates at write time, closing the
	// fetch-to-write race window.
	var result model.UpdateResult
	err = w.retry(ctx, StepConditionalWrite, w.opts.WriteTimeout, func(stepCtx context.Context) error {
		var err error
		result, err = w.store.ConditionalWrite(stepCtx, req)
		return err
	})
	if err != nil {
		return model.UpdateResult{}, err
	}
	if result.Conflict {
		metrics.IncNoteConflict()
		logger.Info().
			Int64("current_version", result.CurrentVersion).
			Msg("version conflict detected at write time")
		return result, nil
	}

	// Broadcast: best-effort. The write above is already committed and is
	// never rolled back here.
	if err := w.broadcast(ctx, req.MissionID, req.NoteID, result.CurrentVersion); err != nil {
		result.Broadcast = false
		result.BroadcastError = err.Error()
		logger.Error().Err(err).
			Int64(xslog.FieldVersion, result.CurrentVersion).
			Msg("note committed but not broadcast")
		return result, nil
	}
	result.Broadcast = true

	logger.Debug().
		Int64(xslog.FieldVersion, result.CurrentVersion).
		Str("writer", req.WriterID).
		Msg("note updated")
	return result, nil
}

func (w *Workflow) broadcast(ctx context.Context, missionID, noteID string, version int64) error {
	if w.events == nil {
		return nil
	}
	return w.retry(ctx, StepBroadcast, w.opts.PublishTimeout, func(stepCtx context.Context) error {
		return w.events.Publish(stepCtx, bus.TopicNotes, bus.Event{
			Type: "note_updated",
			Data: map[string]any{
				"mission_id": missionID,
				"note_id":    noteID,
				"version":    version,
			},
			TS: w.opts.Clock(),
		})
	})
}

// retry runs fn under the per-step timeout, backing off exponentially on
// transient failures until the policy is exhausted.
func (w *Workflow) retry(ctx context.Context, step string, timeout time.Duration, fn func(context.Context) error) error {
	policy := w.opts.Retry
	interval := policy.InitialInterval
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(stepCtx)
		cancel()

		if err == nil {
			metrics.RecordWorkflowStep(step, "success")
			return nil
		}
		lastErr = err
		metrics.RecordWorkflowStep(step, "failure")
		w.logger.Warn().Err(err).
			Str(xslog.FieldStep, step).
			Int(xslog.FieldAttempt, attempt).
			Msg("workflow step failed")

		if attempt == policy.MaxAttempts {
			break
		}
		if err := w.opts.Sleep(ctx, interval); err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}
		interval = time.Duration(float64(interval) * policy.BackoffCoefficient)
		if interval > policy.MaxInterval {
			interval = policy.MaxInterval
		}
	}

	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", step, policy.MaxAttempts, lastErr)
}
