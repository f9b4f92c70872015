package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	execservice "github.com/prana-run/prana/internal/execution/service"
	execmodel "github.com/prana-run/prana/internal/execution/model"
	pkgmw "github.com/prana-run/prana/pkg/middleware"
)

type triggerExecutionRequest struct {
	WorkflowID     string                 `json:"workflowId"`
	TriggerNodeKey string                 `json:"triggerNodeKey,omitempty"`
	Input          map[string]interface{} `json:"input"`
}

type resumeExecutionRequest struct {
	Input map[string]interface{} `json:"input"`
}

func (s *Server) handleTriggerExecution(w http.ResponseWriter, r *http.Request) {
	var req triggerExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exec, err := s.executions.Trigger(r.Context(), execservice.TriggerCommand{
		WorkflowID:     req.WorkflowID,
		TriggerNodeKey: req.TriggerNodeKey,
		UserID:         pkgmw.GetUserID(r.Context()),
		TriggerType:    execmodel.TriggerManual,
		Input:          req.Input,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exec, err := s.executions.GetExecution(r.Context(), execmodel.ExecutionID(id))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	executions, err := s.executions.ListExecutions(r.Context(), r.URL.Query().Get("workflowId"), offset, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"executions": executions, "total": len(executions)})
}

func (s *Server) handleResumeExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req resumeExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	exec, err := s.executions.Resume(r.Context(), execmodel.ExecutionID(id), req.Input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleWebhookTrigger starts a new Execution from an external call
// hitting a workflow's webhook trigger node. Unauthenticated (matched
// by the auth middleware's SkipPaths prefix) since the caller is an
// external system, not a logged-in user.
func (s *Server) handleWebhookTrigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var input map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&input)

	exec, err := s.executions.Trigger(r.Context(), execservice.TriggerCommand{
		WorkflowID:     vars["workflowId"],
		TriggerNodeKey: vars["nodeKey"],
		TriggerType:    execmodel.TriggerWebhook,
		Input:          input,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

// handleWebhookResume resumes an Execution suspended on a mid-workflow
// "wait" node in webhook mode. The wait action's SuspendData carries no
// correlation token of its own (internal/actions/wait), so the
// execution ID in the URL is what ties an inbound delivery to the run
// waiting for it.
func (s *Server) handleWebhookResume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var input map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&input)

	exec, err := s.executions.Resume(r.Context(), execmodel.ExecutionID(id), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func pageParams(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return offset, limit
}
