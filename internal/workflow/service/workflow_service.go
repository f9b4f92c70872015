// Package service implements the application-level operations on
// Workflow aggregates (create/list/update/activate/.../delete),
// grounded on internal/workflow/app/service/workflow_service.go's
// command/query shape and repository+logger wiring.
package service

import (
	"errors"
	"context"
	"fmt"

	"github.com/prana-run/prana/internal/platform/logger"
	"github.com/prana-run/prana/internal/repo"
	wfmodel "github.com/prana-run/prana/internal/workflow/model"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrInvalidInput     = errors.New("invalid input")
)

// WorkflowService handles workflow CRUD and lifecycle transitions.
type WorkflowService struct {
	repo   *repo.WorkflowRepository
	logger logger.Logger
}

// NewWorkflowService wires a WorkflowService.
func NewWorkflowService(r *repo.WorkflowRepository, log logger.Logger) *WorkflowService {
	return &WorkflowService{repo: r, logger: log}
}

// CreateWorkflowCommand describes a new workflow to persist.
type CreateWorkflowCommand struct {
	UserID      string
	Name        string
	Description string
	Nodes       []wfmodel.Node
	Connections []wfmodel.Connection
	Variables   map[string]interface{}
}

// CreateWorkflow builds and persists a new Workflow aggregate.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, cmd CreateWorkflowCommand) (*wfmodel.Workflow, error) {
	wf, err := wfmodel.NewWorkflow(cmd.UserID, cmd.Name, cmd.Description)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	for _, n := range cmd.Nodes {
		if err := wf.AddNode(n); err != nil {
			return nil, fmt.Errorf("%w: adding node %q: %v", ErrInvalidInput, n.Key, err)
		}
	}
	for _, c := range cmd.Connections {
		if err := wf.AddConnection(c); err != nil {
			return nil, fmt.Errorf("%w: adding connection: %v", ErrInvalidInput, err)
		}
	}

	if err := s.repo.Save(ctx, wf); err != nil {
		return nil, fmt.Errorf("saving workflow: %w", err)
	}

	s.logger.Info("workflow created", "workflow_id", wf.ID(), "user_id", cmd.UserID)
	return wf, nil
}

// GetWorkflow loads one workflow by ID.
func (s *WorkflowService) GetWorkflow(ctx context.Context, id wfmodel.WorkflowID) (*wfmodel.Workflow, error) {
	wf, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("getting workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflowsQuery pages a user's workflows.
type ListWorkflowsQuery struct {
	UserID string
	Offset int
	Limit  int
}

// ListWorkflows lists a user's non-archived workflows.
func (s *WorkflowService) ListWorkflows(ctx context.Context, q ListWorkflowsQuery) ([]*wfmodel.Workflow, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	workflows, err := s.repo.FindByUserID(ctx, q.UserID, q.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	return workflows, nil
}

// UpdateWorkflowCommand replaces a workflow's node/connection graph in
// place (the editor always sends a full replacement, not a diff), and
// its settings when Settings is non-nil. Variables are left unchanged.
type UpdateWorkflowCommand struct {
	WorkflowID  wfmodel.WorkflowID
	Nodes       []wfmodel.Node
	Connections []wfmodel.Connection
	Settings    *wfmodel.Settings
}

// UpdateWorkflow replaces a workflow's graph and persists it.
func (s *WorkflowService) UpdateWorkflow(ctx context.Context, cmd UpdateWorkflowCommand) (*wfmodel.Workflow, error) {
	wf, err := s.repo.FindByID(ctx, cmd.WorkflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("getting workflow: %w", err)
	}

	existing := append([]wfmodel.Node(nil), wf.Nodes()...)
	for _, n := range existing {
		_ = wf.RemoveNode(n.Key)
	}
	for _, n := range cmd.Nodes {
		if err := wf.AddNode(n); err != nil {
			return nil, fmt.Errorf("%w: adding node %q: %v", ErrInvalidInput, n.Key, err)
		}
	}
	for _, c := range cmd.Connections {
		if err := wf.AddConnection(c); err != nil {
			return nil, fmt.Errorf("%w: adding connection: %v", ErrInvalidInput, err)
		}
	}
	if cmd.Settings != nil {
		if err := wf.UpdateSettings(*cmd.Settings); err != nil {
			return nil, fmt.Errorf("%w: updating settings: %v", ErrInvalidInput, err)
		}
	}

	if err := s.repo.Update(ctx, wf); err != nil {
		return nil, fmt.Errorf("updating workflow: %w", err)
	}

	s.logger.Info("workflow updated", "workflow_id", wf.ID())
	return wf, nil
}

// DeleteWorkflow archives a workflow rather than hard-deleting it, so
// past Executions keep a valid workflow_id/version to reference.
func (s *WorkflowService) DeleteWorkflow(ctx context.Context, id wfmodel.WorkflowID) error {
	wf, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrWorkflowNotFound
		}
		return fmt.Errorf("getting workflow: %w", err)
	}

	if err := wf.Archive(); err != nil {
		return fmt.Errorf("archiving workflow: %w", err)
	}
	if err := s.repo.Update(ctx, wf); err != nil {
		return fmt.Errorf("updating archived workflow: %w", err)
	}

	s.logger.Info("workflow archived", "workflow_id", id)
	return nil
}

// ActivateWorkflow marks a workflow active, making it eligible for
// trigger dispatch.
func (s *WorkflowService) ActivateWorkflow(ctx context.Context, id wfmodel.WorkflowID) (*wfmodel.Workflow, error) {
	return s.transition(ctx, id, func(wf *wfmodel.Workflow) error { return wf.Activate() })
}

// DeactivateWorkflow marks a workflow inactive.
func (s *WorkflowService) DeactivateWorkflow(ctx context.Context, id wfmodel.WorkflowID) (*wfmodel.Workflow, error) {
	return s.transition(ctx, id, func(wf *wfmodel.Workflow) error { return wf.Deactivate() })
}

func (s *WorkflowService) transition(ctx context.Context, id wfmodel.WorkflowID, fn func(*wfmodel.Workflow) error) (*wfmodel.Workflow, error) {
	wf, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("getting workflow: %w", err)
	}
	if err := fn(wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.repo.Update(ctx, wf); err != nil {
		return nil, fmt.Errorf("updating workflow: %w", err)
	}
	s.logger.Info("workflow status changed", "workflow_id", id, "status", wf.Status())
	return wf, nil
}
