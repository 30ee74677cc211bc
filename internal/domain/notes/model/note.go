// SPDX-License-Identifier: MIT

// Package model defines the versioned mission-note document and the
// transient request/result objects of the conditional-write protocol.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation marks malformed caller input.
var ErrValidation = errors.New("validation failed")

// Note is a shared mutable document under optimistic concurrency control.
// Version 0 means "does not exist"; every successful write increments the
// version by exactly 1, and the durable store is the sole authority for
// that counter.
type Note struct {
	MissionID  string    `json:"mission_id"`
	NoteID     string    `json:"note_id"`
	Content    string    `json:"content"`
	Version    int64     `json:"version"`
	LastWriter string    `json:"last_writer"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UpdateRequest is one conditional-write attempt. ExpectedVersion 0
// expresses document creation. ClientSeq is the writer's logical clock,
// used only as the conflict-resolution ordering key.
type UpdateRequest struct {
	MissionID       string `json:"mission_id"`
	NoteID          string `json:"note_id"`
	Content         string `json:"content"`
	ExpectedVersion int64  `json:"expected_version"`
	WriterID        string `json:"writer_id"`
	ClientSeq       int64  `json:"client_seq"`
}

// Validate rejects requests the workflow cannot execute.
func (r UpdateRequest) Validate() error {
	if r.MissionID == "" || r.NoteID == "" {
		return fmt.Errorf("%w: mission id and note id must not be empty", ErrValidation)
	}
	if r.WriterID == "" {
		return fmt.Errorf("%w: writer id must not be empty", ErrValidation)
	}
	if r.ExpectedVersion < 0 {
		return fmt.Errorf("%w: expected version must not be negative", ErrValidation)
	}
	return nil
}

// UpdateResult reports the outcome of a conditional write. A semantic
// version conflict sets Conflict and is never an error; only
// infrastructure failures travel on the error path.
type UpdateResult struct {
	Success         bool  `json:"success"`
	Conflict        bool  `json:"conflict"`
	CurrentVersion  int64 `json:"current_version"`
	ExpectedVersion int64 `json:"expected_version"`
	Note            *Note `json:"note,omitempty"`
	// Broadcast reports whether the committed change was announced.
	// Success without Broadcast is the documented partial failure: the
	// write is durable, only the notification was lost.
	Broadcast      bool   `json:"broadcast"`
	BroadcastError string `json:"broadcast_error,omitempty"`
}

// ConflictResult builds the canonical conflict outcome carrying both
// versions so the caller can re-fetch and resubmit without guessing.
func ConflictResult(expected, current int64) UpdateResult {
	return UpdateResult{
		Success:         false,
		Conflict:        true,
		CurrentVersion:  current,
		ExpectedVersion: expected,
	}
}
