package api

import (
	"net/http"

	"github.com/ampmatter/ampmatter-core/internal/signalk"
)

// TestSignalKRequest is the body of POST /signalk/test.
type TestSignalKRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleSignalK(w http.ResponseWriter, _ *http.Request) {
	if s.signalk == nil {
		writeNotFound(w, "signalk is not enabled")
		return
	}

	resp := map[string]any{
		"selfId":     s.signalk.SelfID(),
		"navigation": s.signalk.Navigation(),
	}
	if st, err := s.supervisor.Status(signalk.Name); err == nil {
		resp["connection"] = st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTestSignalK probes a SignalK URL without touching the running
// client. A malformed URL is a 400; an unreachable server is a 200 with
// success=false.
func (s *Server) handleTestSignalK(w http.ResponseWriter, r *http.Request) {
	var req TestSignalKRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := signalk.ValidateURL(req.URL); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.testSK(r.Context(), req.URL))
}
