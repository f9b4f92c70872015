package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	execservice "github.com/prana-run/prana/internal/execution/service"
	wfmodel "github.com/prana-run/prana/internal/workflow/model"
	wfservice "github.com/prana-run/prana/internal/workflow/service"
	pkgmw "github.com/prana-run/prana/pkg/middleware"
)

type createWorkflowRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Nodes       []wfmodel.Node         `json:"nodes"`
	Connections []wfmodel.Connection   `json:"connections"`
	Variables   map[string]interface{} `json:"variables"`
}

type updateWorkflowRequest struct {
	Nodes       []wfmodel.Node       `json:"nodes"`
	Connections []wfmodel.Connection `json:"connections"`
	Settings    *wfmodel.Settings    `json:"settings,omitempty"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, err := s.workflows.CreateWorkflow(r.Context(), wfservice.CreateWorkflowCommand{
		UserID:      pkgmw.GetUserID(r.Context()),
		Name:        req.Name,
		Description: req.Description,
		Nodes:       req.Nodes,
		Connections: req.Connections,
		Variables:   req.Variables,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, workflowToJSON(wf))
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.workflows.GetWorkflow(r.Context(), wfmodel.WorkflowID(id))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowToJSON(wf))
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	workflows, err := s.workflows.ListWorkflows(r.Context(), wfservice.ListWorkflowsQuery{
		UserID: pkgmw.GetUserID(r.Context()),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, workflowToJSON(wf))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workflows": out, "total": len(out)})
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, err := s.workflows.UpdateWorkflow(r.Context(), wfservice.UpdateWorkflowCommand{
		WorkflowID:  wfmodel.WorkflowID(id),
		Nodes:       req.Nodes,
		Connections: req.Connections,
		Settings:    req.Settings,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowToJSON(wf))
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.workflows.DeleteWorkflow(r.Context(), wfmodel.WorkflowID(id)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.workflows.ActivateWorkflow(r.Context(), wfmodel.WorkflowID(id))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowToJSON(wf))
}

func (s *Server) handleDeactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.workflows.DeactivateWorkflow(r.Context(), wfmodel.WorkflowID(id))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowToJSON(wf))
}

func workflowToJSON(wf *wfmodel.Workflow) map[string]interface{} {
	return map[string]interface{}{
		"id":          wf.ID().String(),
		"userId":      wf.UserID(),
		"name":        wf.Name(),
		"description": wf.Description(),
		"status":      wf.Status(),
		"nodes":       wf.Nodes(),
		"connections": wf.Connections(),
		"variables":   wf.Variables(),
		"settings":    wf.Settings(),
		"version":     wf.Version(),
		"createdAt":   wf.CreatedAt(),
		"updatedAt":   wf.UpdatedAt(),
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wfservice.ErrWorkflowNotFound), errors.Is(err, execservice.ErrWorkflowNotFound), errors.Is(err, execservice.ErrExecutionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, wfservice.ErrInvalidInput), errors.Is(err, execservice.ErrMaxSubWorkflowDepth):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
