// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/missionops/voicesync/internal/domain/session/model"
)

type createSessionRequest struct {
	UserID   string         `json:"user_id"`
	DeviceID string         `json:"device_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	state, err := s.sessions.Create(r.Context(), req.UserID, req.DeviceID, req.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type updateSessionRequest struct {
	AgentState *string        `json:"agent_state,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}

	var u model.Update
	if req.AgentState != nil {
		as, err := model.ParseAgentState(*req.AgentState)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		u.AgentState = &as
	}
	u.Metadata = req.Metadata

	state, err := s.sessions.Update(r.Context(), chi.URLParam(r, "sessionID"), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	state, err := s.sessions.AddDevice(r.Context(), chi.URLParam(r, "sessionID"), req.DeviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.RemoveDevice(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type reconnectResponse struct {
	Session *model.SessionState   `json:"session"`
	Actions []model.OfflineAction `json:"actions"`
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	state, actions, err := s.sessions.Reconnect(r.Context(), chi.URLParam(r, "sessionID"), req.DeviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconnectResponse{Session: state, Actions: actions})
}

func (s *Server) handleBumpTranscript(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.BumpTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type queueActionRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *Server) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	var req queueActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	action := model.OfflineAction{Type: req.Type, Payload: req.Payload}
	if err := s.sessions.QueueOfflineAction(r.Context(), chi.URLParam(r, "sessionID"), action); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleReplayQueue(w http.ResponseWriter, r *http.Request) {
	actions, err := s.sessions.ReplayOfflineQueue(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	snaps, err := s.sessions.Snapshots(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}
