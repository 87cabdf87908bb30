// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/voxsync/internal/log"
)

type recordingsResponse struct {
	Recordings any `json:"recordings"`
	Total      int `json:"total"`
	Pending    int `json:"pending"`
}

func (s *Server) handleListRecordings(w http.ResponseWriter, _ *http.Request) {
	recs := s.engine.Recordings()
	pending := 0
	for _, r := range recs {
		if !r.Uploaded {
			pending++
		}
	}
	writeJSON(w, http.StatusOK, recordingsResponse{Recordings: recs, Total: len(recs), Pending: pending})
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StartRecording(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.engine.Snapshot())
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.StopRecording(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rec == nil {
		// Nothing was being captured, or the capture was empty.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, rec.WithoutPayload())
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := recordingID(w, r)
	if !ok {
		return
	}
	rec, err := s.engine.Recording(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRecordingAudio streams the payload with range support so players
// can seek.
func (s *Server) handleRecordingAudio(w http.ResponseWriter, r *http.Request) {
	id, ok := recordingID(w, r)
	if !ok {
		return
	}
	rec, err := s.engine.Audio(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": rec.Filename}))
	w.Header().Set("Cache-Control", "private, max-age=0")
	http.ServeContent(w, r, rec.Filename, rec.CreatedAt, bytes.NewReader(rec.Payload))
}

func (s *Server) handleExportRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := recordingID(w, r)
	if !ok {
		return
	}
	path, err := s.engine.ExportRecording(r.Context(), id, s.exportDir())
	if err != nil {
		respondError(w, r, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "recording.exported").
		Int64(log.FieldRecordingID, id).
		Str(log.FieldPath, path).
		Msg("recording exported")
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := recordingID(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteRecording(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func recordingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Sprintf("invalid recording id %q", raw))
		return 0, false
	}
	return id, true
}
