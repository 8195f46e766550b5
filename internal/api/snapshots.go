package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"realtime-dashboard/internal/session"
	"realtime-dashboard/internal/store"
)

// SaveSnapshotRequest represents a request to save the current session.
type SaveSnapshotRequest struct {
	Name string `json:"name"`
}

// SnapshotListResponse represents the saved sessions, newest first.
type SnapshotListResponse struct {
	Snapshots []store.Summary `json:"snapshots"`
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "Invalid limit")
			return
		}
		limit = parsed
	}
	list, err := s.snapshots.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SnapshotListResponse{Snapshots: list})
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SaveSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "Invalid request body")
		return
	}

	snap, err := s.session.Snapshot(req.Name)
	if err != nil {
		if errors.Is(err, session.ErrConnected) {
			writeConflict(w, "Cannot save while connected")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rec, err := s.snapshots.Save(snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.snapshots.Delete(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "Snapshot not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, "Snapshot deleted")
}

// handleLoadSnapshot replaces the dashboard state with a saved session.
func (s *Server) handleLoadSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupSnapshot(w, r)
	if !ok {
		return
	}
	if err := s.session.Load(rec.Snapshot); err != nil {
		if errors.Is(err, session.ErrConnected) {
			writeConflict(w, "Cannot load while connected")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.session.View())
}

func (s *Server) lookupSnapshot(w http.ResponseWriter, r *http.Request) (store.Record, bool) {
	rec, err := s.snapshots.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "Snapshot not found")
			return store.Record{}, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return store.Record{}, false
	}
	return rec, true
}
