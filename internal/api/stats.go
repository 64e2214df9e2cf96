package api

import (
	"net/http"

	"github.com/seantiz/partstock/internal/engine"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Tasks       engine.Stats `json:"tasks"`
	Connections int          `json:"connections"`
	Subscribers int          `json:"subscribers"`
	Phase       string       `json:"phase"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Tasks:       s.engine.Stats(),
		Connections: len(s.registry.Connections()),
		Phase:       s.coord.Phase().String(),
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.Len()
	}
	s.writeJSON(w, http.StatusOK, resp)
}
