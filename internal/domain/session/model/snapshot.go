// SPDX-License-Identifier: MIT

package model

import "time"

// Row is the canonical durable session record. It carries the fields that
// must survive even when no snapshot was ever taken.
type Row struct {
	SessionID string
	UserID    string
	IsActive  bool
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is an immutable point-in-time copy of a SessionState, appended
// to the durable store. "Current" means most recent by CreatedAt.
type Snapshot struct {
	SessionID       string         `json:"session_id"`
	AgentState      AgentState     `json:"agent_state"`
	TranscriptCount int            `json:"transcript_count"`
	Metadata        map[string]any `json:"metadata"`
	DeviceIDs       []string       `json:"device_ids"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Restore rebuilds a live SessionState from this snapshot plus the
// session's durable row. IsActive and UserID always come from the row: the
// row is authoritative for lifecycle, the snapshot for agent progress.
func (sn Snapshot) Restore(row Row) *SessionState {
	state := &SessionState{
		SessionID:       row.SessionID,
		UserID:          row.UserID,
		AgentState:      sn.AgentState,
		IsActive:        row.IsActive,
		LastActivity:    row.UpdatedAt,
		TranscriptCount: sn.TranscriptCount,
		Metadata:        sn.Metadata,
		DeviceIDs:       sn.DeviceIDs,
	}
	if state.Metadata == nil {
		state.Metadata = map[string]any{}
	}
	if state.DeviceIDs == nil {
		state.DeviceIDs = []string{}
	}
	return state
}

// FreshState synthesizes an Idle state for a session row that has no
// snapshot history yet.
func FreshState(row Row) *SessionState {
	meta := row.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return &SessionState{
		SessionID:       row.SessionID,
		UserID:          row.UserID,
		AgentState:      AgentIdle,
		IsActive:        row.IsActive,
		LastActivity:    row.UpdatedAt,
		TranscriptCount: 0,
		Metadata:        meta,
		DeviceIDs:       []string{},
	}
}
