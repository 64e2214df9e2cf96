package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/partstock/internal/engine"
	"github.com/seantiz/partstock/internal/inventory"
	"github.com/seantiz/partstock/internal/model"
	"github.com/seantiz/partstock/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// importResponse is the JSON response for POST /v1/parts/import.
type importResponse struct {
	TaskID string `json:"task_id"`
}

// listPartsResponse wraps the paginated list response.
type listPartsResponse struct {
	Parts  []*model.Part `json:"parts"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (s *Server) handleImportParts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	m, err := inventory.ParseManifest(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.importer.Submit(s.engine, m)
	if errors.Is(err, engine.ErrEngineClosed) {
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	if err != nil {
		s.logger.Error("submit parts import", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit import")
		return
	}

	s.logger.Info("parts import accepted", "task_id", id, "parts", len(m.Parts))
	s.writeJSON(w, http.StatusAccepted, importResponse{TaskID: id})
}

func (s *Server) handleGetPart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !model.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "part not found")
		return
	}

	p, err := s.store.GetPart(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "part not found")
		return
	}
	if err != nil {
		s.logger.Error("get part", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get part")
		return
	}

	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListParts(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	parts, total, err := s.store.ListParts(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list parts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list parts")
		return
	}

	if parts == nil {
		parts = []*model.Part{}
	}

	s.writeJSON(w, http.StatusOK, listPartsResponse{
		Parts:  parts,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
