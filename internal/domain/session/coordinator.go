// SPDX-License-Identifier: MIT

// Package session orchestrates session state across the fast cache and the
// durable store: cache-first reads with durable fallback, write-through
// updates with asynchronous snapshots, multi-device membership and the
// offline action queue.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/missionops/voicesync/internal/bus"
	"github.com/missionops/voicesync/internal/cache"
	"github.com/missionops/voicesync/internal/domain/session/model"
	xslog "github.com/missionops/voicesync/internal/log"
	"github.com/missionops/voicesync/internal/metrics"
)

// DurableStore is the durable-store abstraction consumed by the coordinator.
type DurableStore interface {
	InsertSession(ctx context.Context, row model.Row) error
	GetSession(ctx context.Context, sessionID string) (*model.Row, error)
	DeactivateSession(ctx context.Context, sessionID string, now time.Time) error
	TouchSession(ctx context.Context, sessionID string, active bool, now time.Time) error
	AppendSnapshot(ctx context.Context, snap model.Snapshot) error
	LatestSnapshot(ctx context.Context, sessionID string) (*model.Snapshot, error)
	ListSnapshots(ctx context.Context, sessionID string, limit int) ([]model.Snapshot, error)
}

// Options tunes coordinator behaviour. Zero values select the defaults.
type Options struct {
	StateTTL           time.Duration // cache TTL for active sessions (default 1h)
	GraceTTL           time.Duration // cache TTL after end, for reconnects (default 5m)
	QueueTTL           time.Duration // offline queue TTL, independent of session (default 24h)
	SnapshotQueueDepth int           // async snapshot queue bound (default 256)
	Clock              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StateTTL <= 0 {
		o.StateTTL = time.Hour
	}
	if o.GraceTTL <= 0 {
		o.GraceTTL = 5 * time.Minute
	}
	if o.QueueTTL <= 0 {
		o.QueueTTL = 24 * time.Hour
	}
	if o.SnapshotQueueDepth <= 0 {
		o.SnapshotQueueDepth = 256
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Coordinator owns the cache/durable consistency protocol for sessions.
// Session writes are field-level last-write-wins with no version check:
// the cache is the read-of-record for liveness, the snapshot history the
// read-of-record for recovery, and durable snapshots may lag arbitrarily.
type Coordinator struct {
	cache     cache.Store
	durable   DurableStore
	events    bus.Bus
	snapshots *snapshotWorker
	opts      Options
	logger    zerolog.Logger
}

// NewCoordinator wires a coordinator and starts its snapshot worker.
// Callers must Close it to stop the worker.
func NewCoordinator(cacheStore cache.Store, durable DurableStore, events bus.Bus, opts Options) *Coordinator {
	opts = opts.withDefaults()
	logger := xslog.WithComponent("session-coordinator")
	c := &Coordinator{
		cache:     cacheStore,
		durable:   durable,
		events:    events,
		snapshots: newSnapshotWorker(durable, opts.SnapshotQueueDepth, logger),
		opts:      opts,
		logger:    logger,
	}
	c.snapshots.start()
	return c
}

// Close stops the async snapshot worker after draining queued jobs.
func (c *Coordinator) Close() error {
	c.snapshots.close()
	return nil
}

// Create inserts the durable session row first, then populates the cache.
// A durable failure aborts before any cache write so no orphaned cache
// entries can exist.
func (c *Coordinator) Create(ctx context.Context, userID, deviceID string, metadata map[string]any) (*model.SessionState, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id must not be empty", model.ErrValidation)
	}
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id must not be empty", model.ErrValidation)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	now := c.opts.Clock()
	state := &model.SessionState{
		SessionID:       uuid.NewString(),
		UserID:          userID,
		AgentState:      model.AgentIdle,
		IsActive:        true,
		LastActivity:    now,
		TranscriptCount: 0,
		Metadata:        metadata,
		DeviceIDs:       []string{deviceID},
	}

	row := model.Row{
		SessionID: state.SessionID,
		UserID:    userID,
		IsActive:  true,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.durable.InsertSession(ctx, row); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := c.saveState(ctx, state, c.opts.StateTTL); err != nil {
		// The durable row exists; the next read repopulates the cache.
		c.logger.Warn().Err(err).
			Str(xslog.FieldSessionID, state.SessionID).
			Msg("cache populate after create failed")
	}

	metrics.IncActiveSessions(1)
	c.logger.Info().
		Str(xslog.FieldSessionID, state.SessionID).
		Str(xslog.FieldUserID, userID).
		Str(xslog.FieldDeviceID, deviceID).
		Msg("session created")
	return state, nil
}

// Get returns the current session state: cache hit, or durable fallback
// with cache repopulation. Absence of the durable row is ErrNotFound.
func (c *Coordinator) Get(ctx context.Context, sessionID string) (*model.SessionState, error) {
	return c.loadState(ctx, sessionID)
}

// Update merges a partial update into the session state, writes through to
// the cache synchronously and schedules an async durable snapshot whose
// failure is logged, never surfaced.
func (c *Coordinator) Update(ctx context.Context, sessionID string, u model.Update) (*model.SessionState, error) {
	state, err := c.loadState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state.Apply(u, c.opts.Clock())

	if err := c.saveState(ctx, state, c.opts.StateTTL); err != nil {
		return nil, fmt.Errorf("update session %s: %w", sessionID, err)
	}
	c.snapshots.enqueue(state.Snapshot(c.opts.Clock()))
	return state, nil
}

// AddDevice idempotently adds a device to the session's device set.
func (c *Coordinator) AddDevice(ctx context.Context, sessionID, deviceID string) (*model.SessionState, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id must not be empty", model.ErrValidation)
	}
	state, err := c.loadState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if state.AddDevice(deviceID) {
		if err := c.saveState(ctx, state, c.opts.StateTTL); err != nil {
			return nil, fmt.Errorf("add device to %s: %w", sessionID, err)
		}
		c.snapshots.enqueue(state.Snapshot(c.opts.Clock()))
	}
	return state, nil
}

// RemoveDevice idempotently removes a device. The session goes inactive
// exactly when the device set empties.
func (c *Coordinator) RemoveDevice(ctx context.Context, sessionID, deviceID string) (*model.SessionState, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id must not be empty", model.ErrValidation)
	}
	state, err := c.loadState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if state.RemoveDevice(deviceID) {
		if err := c.saveState(ctx, state, c.opts.StateTTL); err != nil {
			return nil, fmt.Errorf("remove device from %s: %w", sessionID, err)
		}
		c.snapshots.enqueue(state.Snapshot(c.opts.Clock()))
	}
	return state, nil
}

// BumpTranscript increments the monotonic transcript counter.
func (c *Coordinator) BumpTranscript(ctx context.Context, sessionID string) (*model.SessionState, error) {
	state, err := c.loadState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state.TranscriptCount++
	state.LastActivity = c.opts.Clock()

	if err := c.saveState(ctx, state, c.opts.StateTTL); err != nil {
		return nil, fmt.Errorf("bump transcript for %s: %w", sessionID, err)
	}
	c.snapshots.enqueue(state.Snapshot(c.opts.Clock()))
	return state, nil
}

// End forces a synchronous durable snapshot, marks the durable row
// inactive and shortens the cache entry's TTL to the grace window instead
// of deleting it, so reconnects skip the durable round trip.
func (c *Coordinator) End(ctx context.Context, sessionID string) error {
	state, err := c.loadState(ctx, sessionID)
	if err != nil {
		return err
	}

	now := c.opts.Clock()
	state.IsActive = false
	state.LastActivity = now

	if err := c.durable.AppendSnapshot(ctx, state.Snapshot(now)); err != nil {
		return fmt.Errorf("end session %s: final snapshot: %w", sessionID, err)
	}
	if err := c.durable.DeactivateSession(ctx, sessionID, now); err != nil {
		return fmt.Errorf("end session %s: %w", sessionID, err)
	}

	if err := c.saveState(ctx, state, c.opts.GraceTTL); err != nil {
		c.logger.Warn().Err(err).
			Str(xslog.FieldSessionID, sessionID).
			Msg("grace-period cache write failed")
	}

	c.publishEvent(ctx, "session_ended", map[string]any{
		"session_id": sessionID,
		"ts":         now.UTC().Format(time.RFC3339Nano),
	})

	metrics.IncActiveSessions(-1)
	c.logger.Info().Str(xslog.FieldSessionID, sessionID).Msg("session ended")
	return nil
}

// Reconnect is the explicit reconnection transition: it re-adds the
// device, restores activity, refreshes the cache TTL to the active window
// and returns the drained offline queue in enqueue order.
func (c *Coordinator) Reconnect(ctx context.Context, sessionID, deviceID string) (*model.SessionState, []model.OfflineAction, error) {
	if deviceID == "" {
		return nil, nil, fmt.Errorf("%w: device id must not be empty", model.ErrValidation)
	}
	state, err := c.loadState(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	now := c.opts.Clock()
	state.AddDevice(deviceID)
	state.IsActive = true
	state.LastActivity = now

	if err := c.saveState(ctx, state, c.opts.StateTTL); err != nil {
		return nil, nil, fmt.Errorf("reconnect session %s: %w", sessionID, err)
	}
	if err := c.durable.TouchSession(ctx, sessionID, true, now); err != nil {
		c.logger.Warn().Err(err).
			Str(xslog.FieldSessionID, sessionID).
			Msg("durable reactivation failed")
	}
	c.snapshots.enqueue(state.Snapshot(now))

	actions, err := c.ReplayOfflineQueue(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	c.logger.Info().
		Str(xslog.FieldSessionID, sessionID).
		Str(xslog.FieldDeviceID, deviceID).
		Int("replayed", len(actions)).
		Msg("session reconnected")
	return state, actions, nil
}

// QueueOfflineAction appends an action to the session's offline queue. The
// queue TTL is independent of the session's own expiry so queued actions
// outlive a session being marked inactive.
func (c *Coordinator) QueueOfflineAction(ctx context.Context, sessionID string, action model.OfflineAction) error {
	if err := action.Validate(); err != nil {
		return err
	}
	if action.EnqueuedAt.IsZero() {
		action.EnqueuedAt = c.opts.Clock()
	}

	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal offline action: %w", err)
	}
	if err := c.cache.PushList(ctx, cache.QueueKey(sessionID), c.opts.QueueTTL, data); err != nil {
		return fmt.Errorf("queue offline action for %s: %w", sessionID, err)
	}
	return nil
}

// ReplayOfflineQueue atomically drains the offline queue and returns the
// actions in enqueue order. A second drain returns an empty slice.
func (c *Coordinator) ReplayOfflineQueue(ctx context.Context, sessionID string) ([]model.OfflineAction, error) {
	items, err := c.cache.DrainList(ctx, cache.QueueKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("drain offline queue for %s: %w", sessionID, err)
	}

	actions := make([]model.OfflineAction, 0, len(items))
	for _, item := range items {
		var action model.OfflineAction
		if err := json.Unmarshal(item, &action); err != nil {
			c.logger.Warn().Err(err).
				Str(xslog.FieldSessionID, sessionID).
				Msg("skipping malformed offline action")
			continue
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// Snapshots returns up to limit durable snapshots, most recent first.
func (c *Coordinator) Snapshots(ctx context.Context, sessionID string, limit int) ([]model.Snapshot, error) {
	row, err := c.durable.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, model.ErrNotFound
	}
	return c.durable.ListSnapshots(ctx, sessionID, limit)
}

// loadState implements the cache-first read protocol. Cache infrastructure
// failures degrade to a durable read rather than failing the caller.
func (c *Coordinator) loadState(ctx context.Context, sessionID string) (*model.SessionState, error) {
	data, found, err := c.cache.Get(ctx, cache.StateKey(sessionID))
	if err != nil {
		c.logger.Warn().Err(err).
			Str(xslog.FieldSessionID, sessionID).
			Msg("cache read failed, falling back to durable store")
	} else if found {
		var state model.SessionState
		if err := json.Unmarshal(data, &state); err == nil {
			return &state, nil
		}
		c.logger.Warn().Err(err).
			Str(xslog.FieldSessionID, sessionID).
			Msg("corrupt cache entry, falling back to durable store")
	}

	row, err := c.durable.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if row == nil {
		return nil, model.ErrNotFound
	}

	snap, err := c.durable.LatestSnapshot(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var state *model.SessionState
	if snap != nil {
		state = snap.Restore(*row)
	} else {
		state = model.FreshState(*row)
	}

	if err := c.saveState(ctx, state, c.opts.StateTTL); err != nil {
		c.logger.Warn().Err(err).
			Str(xslog.FieldSessionID, sessionID).
			Msg("cache repopulation failed")
	}
	return state, nil
}

func (c *Coordinator) saveState(ctx context.Context, state *model.SessionState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	return c.cache.Set(ctx, cache.StateKey(state.SessionID), data, ttl)
}

// publishEvent is best-effort: failures are logged, never surfaced, and the
// underlying state change is never rolled back.
func (c *Coordinator) publishEvent(ctx context.Context, eventType string, data map[string]any) {
	if c.events == nil {
		return
	}
	evt := bus.Event{Type: eventType, Data: data, TS: c.opts.Clock()}
	if err := c.events.Publish(ctx, bus.TopicSession, evt); err != nil {
		c.logger.Warn().Err(err).
			Str("event_type", eventType).
			Msg("session event publish failed")
	}
}
