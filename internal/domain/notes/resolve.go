// SPDX-License-Identifier: MIT

package notes

import (
	"context"
	"fmt"
	"sort"

	"github.com/missionops/voicesync/internal/domain/notes/model"
	xslog "github.com/missionops/voicesync/internal/log"
)

// Resolution reports the outcome of a conflict-resolution round: the
// winning request, the write result it produced, and the requests that
// were discarded.
type Resolution struct {
	Winner model.UpdateRequest   `json:"winner"`
	Result model.UpdateResult    `json:"result"`
	Losers []model.UpdateRequest `json:"losers,omitempty"`
}

// ResolveConflicts picks one winner among competing updates for the same
// note and re-applies it against the authoritative current version. The
// ordering is deterministic: the highest (ClientSeq, WriterID) pair wins,
// so every replica that resolves the same pending set converges on the
// same outcome. Losers are returned to the caller for client-side merge
// or discard; they are not applied.
func (w *Workflow) ResolveConflicts(ctx context.Context, missionID, noteID string, pending []model.UpdateRequest) (Resolution, error) {
	if len(pending) == 0 {
		return Resolution{}, fmt.Errorf("resolve conflicts: %w: no pending updates", model.ErrValidation)
	}
	for i := range pending {
		if pending[i].MissionID != missionID || pending[i].NoteID != noteID {
			return Resolution{}, fmt.Errorf("resolve conflicts: %w: update %d targets a different note", model.ErrValidation, i)
		}
		if err := pending[i].Validate(); err != nil {
			return Resolution{}, fmt.Errorf("resolve conflicts: update %d: %w", i, err)
		}
	}

	ordered := make([]model.UpdateRequest, len(pending))
	copy(ordered, pending)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ClientSeq != ordered[j].ClientSeq {
			return ordered[i].ClientSeq < ordered[j].ClientSeq
		}
		return ordered[i].WriterID < ordered[j].WriterID
	})
	winner := ordered[len(ordered)-1]
	losers := ordered[:len(ordered)-1]

	// Re-anchor the winner on the version the store holds now; its
	// original ExpectedVersion lost the race by definition.
	var current int64
	err := w.retry(ctx, StepFetchVersion, w.opts.FetchTimeout, func(stepCtx context.Context) error {
		var err error
		current, err = w.store.FetchVersion(stepCtx, missionID, noteID)
		return err
	})
	if err != nil {
		return Resolution{}, err
	}
	winner.ExpectedVersion = current

	result, err := w.Submit(ctx, winner)
	if err != nil {
		return Resolution{}, err
	}

	w.logger.Info().
		Str(xslog.FieldMissionID, missionID).
		Str(xslog.FieldNoteID, noteID).
		Str("winner", winner.WriterID).
		Int64("winner_seq", winner.ClientSeq).
		Int("losers", len(losers)).
		Bool("applied", result.Success).
		Msg("conflict resolution completed")

	return Resolution{Winner: winner, Result: result, Losers: losers}, nil
}
