// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/missionops/voicesync/internal/domain/notes/model"
)

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.notes.Get(r.Context(), chi.URLParam(r, "missionID"), chi.URLParam(r, "noteID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if note == nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

type updateNoteRequest struct {
	Content         string `json:"content"`
	ExpectedVersion int64  `json:"expected_version"`
	WriterID        string `json:"writer_id"`
	ClientSeq       int64  `json:"client_seq"`
}

func (r updateNoteRequest) toModel(missionID, noteID string) model.UpdateRequest {
	return model.UpdateRequest{
		MissionID:       missionID,
		NoteID:          noteID,
		Content:         r.Content,
		ExpectedVersion: r.ExpectedVersion,
		WriterID:        r.WriterID,
		ClientSeq:       r.ClientSeq,
	}
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req updateNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}

	res, err := s.notes.Submit(r.Context(),
		req.toModel(chi.URLParam(r, "missionID"), chi.URLParam(r, "noteID")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Conflict {
		writeConflict(w, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resolveNoteRequest struct {
	Pending []updateNoteRequest `json:"pending"`
}

func (s *Server) handleResolveNote(w http.ResponseWriter, r *http.Request) {
	var req resolveNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}

	missionID := chi.URLParam(r, "missionID")
	noteID := chi.URLParam(r, "noteID")
	pending := make([]model.UpdateRequest, len(req.Pending))
	for i, p := range req.Pending {
		pending[i] = p.toModel(missionID, noteID)
	}

	res, err := s.notes.ResolveConflicts(r.Context(), missionID, noteID, pending)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
