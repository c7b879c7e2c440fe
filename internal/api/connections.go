package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ampmatter/ampmatter-core/internal/connection"
	"github.com/ampmatter/ampmatter-core/internal/supervisor"
)

// handleListConnections returns the status of every managed connection.
func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	statuses := s.supervisor.Statuses()
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": statuses,
		"count":       len(statuses),
	})
}

// handleGetConnection returns one connection's status.
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	st, err := s.supervisor.Status(chi.URLParam(r, "name"))
	if err != nil {
		s.writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleReconnect clears a manual disconnect and dials again. The dial is
// asynchronous, so the returned status is usually "connecting".
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.supervisor.Reconnect(name); err != nil {
		s.writeSupervisorError(w, err)
		return
	}
	s.writeStatus(w, http.StatusAccepted, name)
}

// handleDisconnect closes a connection and stops it retrying.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.supervisor.Disconnect(name); err != nil {
		s.writeSupervisorError(w, err)
		return
	}
	s.writeStatus(w, http.StatusOK, name)
}

// handleConnectionEvents returns journal entries for a connection, newest first.
func (s *Server) handleConnectionEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.supervisor.Status(name); err != nil {
		s.writeSupervisorError(w, err)
		return
	}
	if s.journal == nil {
		writeNotFound(w, "connection journal is not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.List(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("failed to read connection journal", "connection", name, "error", err)
		writeInternalError(w, "failed to read connection events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection": name,
		"events":     entries,
		"count":      len(entries),
	})
}

func (s *Server) writeStatus(w http.ResponseWriter, code int, name string) {
	st, err := s.supervisor.Status(name)
	if err != nil {
		s.writeSupervisorError(w, err)
		return
	}
	writeJSON(w, code, st)
}

func (s *Server) writeSupervisorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, connection.ErrClosed), errors.Is(err, supervisor.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		s.logger.Error("connection action failed", "error", err)
		writeInternalError(w, err.Error())
	}
}
