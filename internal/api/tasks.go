package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/partstock/internal/engine"
	"github.com/seantiz/partstock/internal/model"
)

// listTasksResponse is the JSON response for GET /v1/tasks.
type listTasksResponse struct {
	Tasks []model.Task `json:"tasks"`
	Stats engine.Stats `json:"stats"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type cancelConflictResponse struct {
	Error string          `json:"error"`
	State model.TaskState `json:"state"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, listTasksResponse{
		Tasks: s.engine.List(),
		Stats: s.engine.Stats(),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.engine.Get(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.writeJSON(w, http.StatusOK, task)
}

// handleCancelTask cancels a pending task. A running task is asked to stop
// through its context but the request still answers 409, since whether it
// stops is up to the work.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.engine.Cancel(id) {
		s.writeJSON(w, http.StatusOK, cancelResponse{Cancelled: true})
		return
	}

	task, err := s.engine.Get(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task after cancel", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.writeJSON(w, http.StatusConflict, cancelConflictResponse{
		Error: "task is not pending",
		State: task.State,
	})
}
