package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.coord.ShuttingDown() {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "draining"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
