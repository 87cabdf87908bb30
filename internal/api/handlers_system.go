// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ManuGH/voxsync/internal/auth"
	"github.com/ManuGH/voxsync/internal/engine"
	"github.com/ManuGH/voxsync/internal/log"
)

const maxJSONBody = 64 << 10

type statusResponse struct {
	engine.Snapshot
	History []engine.StatusEntry `json:"history,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Snapshot: s.engine.Snapshot()}
	if r.URL.Query().Get("history") == "true" {
		resp.History = s.engine.StatusFeed()
	}
	writeJSON(w, http.StatusOK, resp)
}

type versionResponse struct {
	Version      string `json:"version"`
	ShellVersion string `json:"shellVersion,omitempty"`
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	resp := versionResponse{Version: s.cfg.Version}
	if s.shell != nil {
		resp.ShellVersion = s.shell.Version()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.SyncNow(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	state := s.states.issue()
	u, err := s.engine.AuthURL(state)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u, "state": state})
}

type signInRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "code is required")
		return
	}
	if req.State != "" && !s.states.consume(req.State) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "unknown or expired state")
		return
	}
	if err := s.engine.SignIn(r.Context(), req.Code); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// handleAuthCallback completes the browser redirect leg of the
// authorization-code flow and sends the user back to the shell.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		respondError(w, r, errors.Join(auth.ErrAuthFailed, errors.New(e)))
		return
	}
	if !s.states.consume(q.Get("state")) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "unknown or expired state")
		return
	}
	if q.Get("code") == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "code is required")
		return
	}
	if err := s.engine.SignIn(r.Context(), q.Get("code")); err != nil {
		respondError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SignOut(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type connectivityResponse struct {
	Online bool `json:"online"`
}

func (s *Server) handleGetConnectivity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, connectivityResponse{Online: s.conn != nil && s.conn.Online()})
}

// connectivityRequest pins (online true/false), clears (online null) or
// re-probes (probe true) the connectivity state.
type connectivityRequest struct {
	Online *bool `json:"online"`
	Probe  bool  `json:"probe"`
}

func (s *Server) handleSetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	switch c := s.conn.(type) {
	case overrider:
		if req.Probe {
			if _, err := c.CheckNow(r.Context()); err != nil {
				respondError(w, r, err)
				return
			}
		} else {
			c.Override(r.Context(), req.Online)
		}
	case setter:
		if req.Online == nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "online is required")
			return
		}
		c.Set(r.Context(), *req.Online)
	default:
		writeError(w, http.StatusNotImplemented, codeUnsupported, "connectivity is not controllable")
		return
	}
	logger.Info().
		Str(log.FieldEvent, "connectivity.changed_by_api").
		Bool("online", s.conn.Online()).
		Msg("connectivity updated via API")
	writeJSON(w, http.StatusOK, connectivityResponse{Online: s.conn.Online()})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}
