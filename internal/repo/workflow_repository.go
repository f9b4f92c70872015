package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/prana-run/prana/internal/platform/database"
	wfmodel "github.com/prana-run/prana/internal/workflow/model"
)

// WorkflowRepository persists Workflow aggregates. Grounded on
// internal/workflow/adapters/repository/postgres/workflow_repository.go,
// with the event-store write dropped: nothing in this engine consumes
// a domain_events table, so Save/Update just discard
// GetUncommittedEvents via MarkEventsAsCommitted instead of writing
// them anywhere.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository wraps db.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Save inserts a new workflow.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *wfmodel.Workflow) error {
	nodesJSON, err := json.Marshal(workflow.Nodes())
	if err != nil {
		return fmt.Errorf("repo: marshaling nodes: %w", err)
	}
	connectionsJSON, err := json.Marshal(workflow.Connections())
	if err != nil {
		return fmt.Errorf("repo: marshaling connections: %w", err)
	}
	variablesJSON, err := json.Marshal(workflow.Variables())
	if err != nil {
		return fmt.Errorf("repo: marshaling variables: %w", err)
	}
	settingsJSON, err := json.Marshal(workflow.Settings())
	if err != nil {
		return fmt.Errorf("repo: marshaling settings: %w", err)
	}

	query := `
		INSERT INTO workflows (
			id, user_id, name, description, status,
			nodes, connections, variables, settings, version,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID().String(),
		workflow.UserID(),
		workflow.Name(),
		workflow.Description(),
		string(workflow.Status()),
		nodesJSON,
		connectionsJSON,
		variablesJSON,
		settingsJSON,
		workflow.Version(),
		workflow.CreatedAt(),
		workflow.UpdatedAt(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("repo: workflow already exists: %w", err)
		}
		return fmt.Errorf("repo: inserting workflow: %w", err)
	}

	workflow.MarkEventsAsCommitted()
	return nil
}

// Update persists changes to an existing workflow under optimistic
// locking (WHERE id = $1 AND version = $N).
func (r *WorkflowRepository) Update(ctx context.Context, workflow *wfmodel.Workflow) error {
	nodesJSON, _ := json.Marshal(workflow.Nodes())
	connectionsJSON, _ := json.Marshal(workflow.Connections())
	variablesJSON, _ := json.Marshal(workflow.Variables())
	settingsJSON, _ := json.Marshal(workflow.Settings())

	query := `
		UPDATE workflows
		SET name = $2, description = $3, status = $4,
			nodes = $5, connections = $6, variables = $7, settings = $8,
			version = $9, updated_at = $10
		WHERE id = $1 AND version = $11
	`

	result, err := r.db.ExecContext(ctx, query,
		workflow.ID().String(),
		workflow.Name(),
		workflow.Description(),
		string(workflow.Status()),
		nodesJSON,
		connectionsJSON,
		variablesJSON,
		settingsJSON,
		workflow.Version(),
		workflow.UpdatedAt(),
		workflow.Version()-len(workflow.GetUncommittedEvents()),
	)
	if err != nil {
		return fmt.Errorf("repo: updating workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: reading rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOptimisticLocking
	}

	workflow.MarkEventsAsCommitted()
	return nil
}

// FindByID loads a workflow by ID.
func (r *WorkflowRepository) FindByID(ctx context.Context, id wfmodel.WorkflowID) (*wfmodel.Workflow, error) {
	query := `
		SELECT id, user_id, name, description, status,
			nodes, connections, variables, settings, version,
			created_at, updated_at
		FROM workflows WHERE id = $1
	`

	row := workflowRow{}
	err := r.db.QueryRowContext(ctx, query, id.String()).Scan(
		&row.ID, &row.UserID, &row.Name, &row.Description, &row.Status,
		&row.Nodes, &row.Connections, &row.Variables, &row.Settings, &row.Version,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repo: querying workflow: %w", err)
	}

	return row.toModel()
}

// FindByUserID lists a user's non-archived workflows, most recently
// updated first.
func (r *WorkflowRepository) FindByUserID(ctx context.Context, userID string, offset, limit int) ([]*wfmodel.Workflow, error) {
	query := `
		SELECT id, user_id, name, description, status,
			nodes, connections, variables, settings, version,
			created_at, updated_at
		FROM workflows
		WHERE user_id = $1 AND status != 'archived'
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: querying workflows: %w", err)
	}
	defer rows.Close()

	var out []*wfmodel.Workflow
	for rows.Next() {
		row := workflowRow{}
		if err := rows.Scan(
			&row.ID, &row.UserID, &row.Name, &row.Description, &row.Status,
			&row.Nodes, &row.Connections, &row.Variables, &row.Settings, &row.Version,
			&row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("repo: scanning workflow row: %w", err)
		}
		wf, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// Delete removes a workflow permanently.
func (r *WorkflowRepository) Delete(ctx context.Context, id wfmodel.WorkflowID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("repo: deleting workflow: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: reading rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type workflowRow struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Status      string
	Nodes       []byte
	Connections []byte
	Variables   []byte
	Settings    []byte
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (row workflowRow) toModel() (*wfmodel.Workflow, error) {
	var nodes []wfmodel.Node
	if err := json.Unmarshal(row.Nodes, &nodes); err != nil {
		return nil, fmt.Errorf("repo: unmarshaling nodes: %w", err)
	}
	var connections []wfmodel.Connection
	if err := json.Unmarshal(row.Connections, &connections); err != nil {
		return nil, fmt.Errorf("repo: unmarshaling connections: %w", err)
	}
	var variables map[string]interface{}
	if err := json.Unmarshal(row.Variables, &variables); err != nil {
		return nil, fmt.Errorf("repo: unmarshaling variables: %w", err)
	}
	var settings wfmodel.Settings
	if err := json.Unmarshal(row.Settings, &settings); err != nil {
		return nil, fmt.Errorf("repo: unmarshaling settings: %w", err)
	}

	return wfmodel.ReconstructWorkflow(
		wfmodel.WorkflowID(row.ID),
		row.UserID, row.Name, row.Description,
		wfmodel.WorkflowStatus(row.Status),
		nodes, connections, variables, settings,
		row.Version, row.CreatedAt, row.UpdatedAt,
	), nil
}
