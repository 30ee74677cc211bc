// SPDX-License-Identifier: MIT

// Package bus provides the committed-change event broadcaster. Delivery is
// best-effort: a failed publish never rolls back the write that caused it.
package bus

import (
	"context"
	"time"
)

// Event is one committed-change notification.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
	TS   time.Time      `json:"ts"`
}

// Bus fans out events to interested consumers.
type Bus interface {
	Publish(ctx context.Context, topic string, evt Event) error
	Close() error
}

// Topic names used by the core.
const (
	TopicSession = "session-events"
	TopicNotes   = "mission-note-events"
)
