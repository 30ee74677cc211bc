// SPDX-License-Identifier: MIT

// Package model defines the session-state data model shared by the cache,
// the durable store and the coordinator.
package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound marks a session that exists neither in the cache nor in
	// the durable store.
	ErrNotFound = errors.New("session not found")
	// ErrValidation marks malformed caller input.
	ErrValidation = errors.New("validation failed")
)

// AgentState is the agent's position in the voice loop.
type AgentState string

const (
	AgentIdle      AgentState = "idle"
	AgentListening AgentState = "listening"
	AgentThinking  AgentState = "thinking"
	AgentSpeaking  AgentState = "speaking"
)

// ParseAgentState validates a wire-level agent state value.
func ParseAgentState(s string) (AgentState, error) {
	switch AgentState(s) {
	case AgentIdle, AgentListening, AgentThinking, AgentSpeaking:
		return AgentState(s), nil
	}
	return "", fmt.Errorf("%w: unknown agent state %q", ErrValidation, s)
}

// SessionState is the complete live state of one session. The cache holds
// the latest copy; the durable store holds its snapshot history.
type SessionState struct {
	SessionID       string         `json:"session_id"`
	UserID          string         `json:"user_id"`
	AgentState      AgentState     `json:"agent_state"`
	IsActive        bool           `json:"is_active"`
	LastActivity    time.Time      `json:"last_activity"`
	TranscriptCount int            `json:"transcript_count"`
	Metadata        map[string]any `json:"metadata"`
	DeviceIDs       []string       `json:"device_ids"`
}

// Update is a partial session-state mutation. Nil fields are left untouched;
// Metadata entries are shallow-merged over the existing map.
type Update struct {
	AgentState *AgentState
	Metadata   map[string]any
}

// Apply merges an update into the state, field-level last-write-wins.
func (s *SessionState) Apply(u Update, now time.Time) {
	if u.AgentState != nil {
		s.AgentState = *u.AgentState
	}
	if len(u.Metadata) > 0 {
		if s.Metadata == nil {
			s.Metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			s.Metadata[k] = v
		}
	}
	s.LastActivity = now
}

// HasDevice reports whether deviceID is in the device set.
func (s *SessionState) HasDevice(deviceID string) bool {
	for _, id := range s.DeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// AddDevice adds deviceID to the device set. It reports whether the set
// changed; adding a present device is a no-op.
func (s *SessionState) AddDevice(deviceID string) bool {
	if s.HasDevice(deviceID) {
		return false
	}
	s.DeviceIDs = append(s.DeviceIDs, deviceID)
	return true
}

// RemoveDevice removes deviceID from the device set and reports whether the
// set changed. The session goes inactive exactly when the set empties; no
// other path flips IsActive to false implicitly.
func (s *SessionState) RemoveDevice(deviceID string) bool {
	for i, id := range s.DeviceIDs {
		if id == deviceID {
			s.DeviceIDs = append(s.DeviceIDs[:i], s.DeviceIDs[i+1:]...)
			if len(s.DeviceIDs) == 0 {
				s.IsActive = false
			}
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the state.
func (s *SessionState) Clone() *SessionState {
	cp := *s
	if s.Metadata != nil {
		cp.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	if s.DeviceIDs != nil {
		cp.DeviceIDs = append([]string(nil), s.DeviceIDs...)
	}
	return &cp
}

// Snapshot captures the state as an immutable durable snapshot.
func (s *SessionState) Snapshot(now time.Time) Snapshot {
	cp := s.Clone()
	return Snapshot{
		SessionID:       cp.SessionID,
		AgentState:      cp.AgentState,
		TranscriptCount: cp.TranscriptCount,
		Metadata:        cp.Metadata,
		DeviceIDs:       cp.DeviceIDs,
		CreatedAt:       now,
	}
}
