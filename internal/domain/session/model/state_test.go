// SPDX-License-Identifier: MIT

package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testState() *SessionState {
	return &SessionState{
		SessionID:       "s1",
		UserID:          "u1",
		AgentState:      AgentIdle,
		IsActive:        true,
		LastActivity:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		TranscriptCount: 3,
		Metadata:        map[string]any{"locale": "en"},
		DeviceIDs:       []string{"d1"},
	}
}

func TestParseAgentState(t *testing.T) {
	for _, valid := range []string{"idle", "listening", "thinking", "speaking"} {
		if _, err := ParseAgentState(valid); err != nil {
			t.Errorf("ParseAgentState(%q): %v", valid, err)
		}
	}
	_, err := ParseAgentState("shouting")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestApplyMergesFields(t *testing.T) {
	s := testState()
	now := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)

	listening := AgentListening
	s.Apply(Update{
		AgentState: &listening,
		Metadata:   map[string]any{"channel": "ops", "locale": "de"},
	}, now)

	if s.AgentState != AgentListening {
		t.Errorf("agent state not replaced: %s", s.AgentState)
	}
	if s.Metadata["locale"] != "de" || s.Metadata["channel"] != "ops" {
		t.Errorf("metadata not shallow-merged: %v", s.Metadata)
	}
	if !s.LastActivity.Equal(now) {
		t.Errorf("last activity not bumped")
	}
	// An update never re-asserts activity.
	s.IsActive = false
	s.Apply(Update{Metadata: map[string]any{"x": 1}}, now)
	if s.IsActive {
		t.Error("Apply must not flip IsActive")
	}
}

func TestDeviceSetSemantics(t *testing.T) {
	s := testState()

	if !s.AddDevice("d2") {
		t.Error("adding a new device should change the set")
	}
	if s.AddDevice("d2") {
		t.Error("adding a present device should be a no-op")
	}

	if !s.RemoveDevice("d1") {
		t.Error("removing a present device should change the set")
	}
	if s.RemoveDevice("d1") {
		t.Error("removing an absent device should be a no-op")
	}
	if !s.IsActive {
		t.Error("session must stay active while devices remain")
	}

	s.RemoveDevice("d2")
	if s.IsActive {
		t.Error("session must go inactive when the device set empties")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := testState()
	cp := s.Clone()
	cp.Metadata["locale"] = "fr"
	cp.DeviceIDs[0] = "other"

	if s.Metadata["locale"] != "en" {
		t.Error("clone shares metadata map")
	}
	if s.DeviceIDs[0] != "d1" {
		t.Error("clone shares device slice")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := testState()
	s.AgentState = AgentSpeaking
	now := time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC)

	snap := s.Snapshot(now)

	// Serialize the snapshot the way the durable store does and rebuild.
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	row := Row{
		SessionID: s.SessionID,
		UserID:    s.UserID,
		IsActive:  s.IsActive,
		UpdatedAt: s.LastActivity,
	}
	restored := decoded.Restore(row)

	if diff := cmp.Diff(s, restored); diff != "" {
		t.Errorf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFreshStateIsIdle(t *testing.T) {
	row := Row{SessionID: "s1", UserID: "u1", IsActive: true, Metadata: map[string]any{"k": "v"}}
	s := FreshState(row)
	if s.AgentState != AgentIdle {
		t.Errorf("expected idle, got %s", s.AgentState)
	}
	if s.TranscriptCount != 0 || len(s.DeviceIDs) != 0 {
		t.Error("fresh state must start empty")
	}
	if s.Metadata["k"] != "v" {
		t.Error("row metadata must carry over")
	}
}
