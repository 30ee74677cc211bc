// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
	"time"
)

// OfflineAction is one client action recorded while disconnected, replayed
// in FIFO order on reconnect.
type OfflineAction struct {
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Validate rejects actions that cannot be replayed.
func (a OfflineAction) Validate() error {
	if a.Type == "" {
		return fmt.Errorf("%w: offline action type must not be empty", ErrValidation)
	}
	return nil
}
