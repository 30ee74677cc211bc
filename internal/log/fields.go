// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"
	FieldDeviceID  = "device_id"
	FieldMissionID = "mission_id"
	FieldNoteID    = "note_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStep      = "step"
	FieldAttempt   = "attempt"

	// State fields
	FieldAgentState = "agent_state"
	FieldVersion    = "version"
	FieldTopic      = "topic"
	FieldKey        = "key"
)
