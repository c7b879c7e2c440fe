package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ampmatter/ampmatter-core/internal/feeds"
)

// NavigationResponse combines the network GPS feed with the SignalK view.
// Either part is omitted when its source is disabled.
type NavigationResponse struct {
	GPS     any `json:"gps,omitempty"`
	SignalK any `json:"signalk,omitempty"`
}

func (s *Server) handleSensors(w http.ResponseWriter, _ *http.Request) {
	if s.sensors == nil {
		writeNotFound(w, "sensors feed is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.sensors.Snapshot())
}

func (s *Server) handleWeather(w http.ResponseWriter, _ *http.Request) {
	if s.weather == nil {
		writeNotFound(w, "weather feed is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.weather.Snapshot())
}

func (s *Server) handleNavigation(w http.ResponseWriter, _ *http.Request) {
	if s.navigation == nil && s.signalk == nil {
		writeNotFound(w, "no navigation source is enabled")
		return
	}

	var resp NavigationResponse
	if s.navigation != nil {
		resp.GPS = s.navigation.Snapshot()
	}
	if s.signalk != nil {
		resp.SignalK = s.signalk.Navigation()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Relays ────────────────────────────────────────────────────────

// RelayRequest is the body of POST /relays/{id}.
type RelayRequest struct {
	On *bool `json:"on"`
}

func (s *Server) handleListRelays(w http.ResponseWriter, _ *http.Request) {
	if s.relays == nil {
		writeNotFound(w, "relay feed is not enabled")
		return
	}
	relays := s.relays.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"relays": relays,
		"count":  len(relays),
	})
}

// handleSetRelay switches a relay. The response is the relay as it stands
// afterwards; on failure the optimistic update has already been reverted.
func (s *Server) handleSetRelay(w http.ResponseWriter, r *http.Request) {
	if s.relays == nil {
		writeNotFound(w, "relay feed is not enabled")
		return
	}

	var req RelayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeBadRequest(w, `"on" is required`)
		return
	}

	relay, err := s.relays.Set(r.Context(), chi.URLParam(r, "id"), *req.On)
	if err != nil {
		s.writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, relay)
}

func (s *Server) handleToggleRelay(w http.ResponseWriter, r *http.Request) {
	if s.relays == nil {
		writeNotFound(w, "relay feed is not enabled")
		return
	}

	relay, err := s.relays.Toggle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, relay)
}

func (s *Server) writeRelayError(w http.ResponseWriter, err error) {
	if errors.Is(err, feeds.ErrUnknownRelay) {
		writeNotFound(w, err.Error())
		return
	}
	writeCommandError(w, err)
}

// ─── Victron ───────────────────────────────────────────────────────

// ModeRequest is the body of POST /victron/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleVictron(w http.ResponseWriter, _ *http.Request) {
	if s.victron == nil {
		writeNotFound(w, "victron feed is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.victron.State())
}

func (s *Server) handleSetVictronMode(w http.ResponseWriter, r *http.Request) {
	if s.victron == nil {
		writeNotFound(w, "victron feed is not enabled")
		return
	}

	var req ModeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mode, err := feeds.ParseMode(req.Mode)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.victron.SetMode(r.Context(), mode); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.victron.State())
}
