package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/hutch/pkg/auth"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/session"
	"github.com/cuemby/hutch/pkg/types"
)

type startRequest struct {
	ProjectID string            `json:"projectId"`
	Files     map[string]string `json:"files"`
}

type patchFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// sessionSummary is the session view handed to clients. The file map
// and log ring never leave the gateway through this shape.
type sessionSummary struct {
	ID             string              `json:"id"`
	ProjectID      string              `json:"projectId"`
	Status         types.SessionStatus `json:"status"`
	IframeURL      string              `json:"iframeUrl"`
	CreatedAt      time.Time           `json:"createdAt"`
	LastActivityAt time.Time           `json:"lastActivityAt"`
	Error          string              `json:"error,omitempty"`
}

func summarize(s *types.Session) sessionSummary {
	return sessionSummary{
		ID:             s.ID,
		ProjectID:      s.ProjectID,
		Status:         s.Status,
		IframeURL:      s.IframeURL,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		Error:          s.Error,
	}
}

// handleStart provisions a session and blocks until its worker answers
// the readiness probe.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProjectID == "" {
		writeError(w, r, http.StatusBadRequest, "validation failed", "projectId is required")
		return
	}

	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	sess, err := s.sessions.Create(r.Context(), req.ProjectID, *identity, req.Files)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": summarize(sess),
	})
}

// handlePatchFile applies one incremental file update; the dev server's
// own watcher turns the write into HMR.
func (s *Server) handlePatchFile(w http.ResponseWriter, r *http.Request) {
	var req patchFileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, r, http.StatusBadRequest, "validation failed", "path is required")
		return
	}

	if err := s.sessions.PatchFile(r.PathValue("sessionId"), req.Path, req.Content); err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "validation failed", "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}

	lines, err := s.sessions.Logs(r.Context(), r.PathValue("sessionId"), since)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":    lines,
		"hasMore": false,
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Ping(r.PathValue("sessionId")) {
		writeError(w, r, http.StatusNotFound, "session not found", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleStop is idempotent: stopping an unknown or already-stopped
// session succeeds.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.Context(), r.PathValue("sessionId")); err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("sessionId"))
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(sess))
}

// decodeBody parses a JSON request body, answering 400 (or 413 for an
// oversized body) itself. It reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large", "")
			return false
		}
		writeError(w, r, http.StatusBadRequest, "invalid request body", "body must be valid JSON")
		return false
	}
	return true
}

// sessionError maps the session manager's typed errors onto the HTTP
// taxonomy. Unknown errors become a 500 with the request id logged and
// no internals in the body.
func (s *Server) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrBadPath):
		writeError(w, r, http.StatusBadRequest, "validation failed", err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "session not found", "")
	case errors.Is(err, session.ErrNotRunning):
		writeError(w, r, http.StatusConflict, "session not running", "the session is not accepting changes")
	case errors.Is(err, session.ErrMaxSessions):
		writeError(w, r, http.StatusTooManyRequests, "maximum sessions reached", "maximum sessions reached")
	case errors.Is(err, session.ErrNoPorts):
		writeError(w, r, http.StatusTooManyRequests, "no available ports", "no available ports")
	case errors.Is(err, session.ErrNotReady),
		errors.Is(err, session.ErrStartFailed),
		errors.Is(err, session.ErrAborted):
		writeError(w, r, http.StatusInternalServerError, "start failed", err.Error())
	default:
		s.logger.Error().Err(err).
			Str("request_id", log.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("Unhandled session error")
		writeError(w, r, http.StatusInternalServerError, "internal error", "")
	}
}
