// Package repo provides a Postgres-backed store for
// execmodel.PersistedExecution, the serializable half of an Execution
// (spec §6's persisted state shape). Grounded on
// internal/execution/adapters/repository/postgres/execution_repository.go's
// query shape (same table/column layout, optimistic-locking UPDATE,
// JSON columns for the composite fields) and its row-scan/toDomain
// split, reworked around execmodel.PersistedExecution instead of the
// teacher's aggregate-root Execution type. Library: lib/pq via
// database/sql, through platform/database.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	execmodel "github.com/prana-run/prana/internal/execution/model"
	"github.com/prana-run/prana/internal/platform/database"
)

var (
	// ErrNotFound is returned when no execution matches the given ID.
	ErrNotFound = errors.New("execution not found")
	// ErrOptimisticLocking is returned when Update's WHERE version
	// clause matches no row, meaning another writer updated it first.
	ErrOptimisticLocking = errors.New("optimistic locking failed")
)

// ExecutionRepository persists execmodel.PersistedExecution records.
type ExecutionRepository struct {
	db *database.DB
}

// NewExecutionRepository wraps a platform/database.DB connection.
func NewExecutionRepository(db *database.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Save inserts a new execution row.
func (r *ExecutionRepository) Save(ctx context.Context, e *execmodel.PersistedExecution) error {
	inputData, err := json.Marshal(e.InputData)
	if err != nil {
		return fmt.Errorf("marshaling input data: %w", err)
	}
	outputData, err := json.Marshal(e.OutputData)
	if err != nil {
		return fmt.Errorf("marshaling output data: %w", err)
	}
	vars, err := json.Marshal(e.Vars)
	if err != nil {
		return fmt.Errorf("marshaling vars: %w", err)
	}
	preparationData, err := json.Marshal(e.PreparationData)
	if err != nil {
		return fmt.Errorf("marshaling preparation data: %w", err)
	}
	nodeExecutions, err := json.Marshal(e.NodeExecutions)
	if err != nil {
		return fmt.Errorf("marshaling node executions: %w", err)
	}

	var suspension []byte
	if e.Suspension != nil {
		if suspension, err = json.Marshal(e.Suspension); err != nil {
			return fmt.Errorf("marshaling suspension: %w", err)
		}
	}

	var errorData []byte
	if e.Error != nil {
		if errorData, err = json.Marshal(e.Error); err != nil {
			return fmt.Errorf("marshaling error: %w", err)
		}
	}

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, workflow_version, user_id, trigger_type, trigger_id,
			status, input_data, output_data, vars, preparation_data, node_executions,
			suspension, current_execution_index, error, started_at, completed_at,
			metadata, created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21
		)`

	_, err = r.db.ExecContext(ctx, query,
		e.ID.String(),
		e.WorkflowID,
		e.WorkflowVersion,
		e.UserID,
		string(e.TriggerType),
		e.TriggerID,
		string(e.Status),
		inputData,
		outputData,
		vars,
		preparationData,
		nodeExecutions,
		suspension,
		e.CurrentExecutionIndex,
		errorData,
		database.NullTime(timeOrZero(e.StartedAt)),
		database.NullTime(timeOrZero(e.CompletedAt)),
		metadata,
		e.CreatedAt,
		e.UpdatedAt,
		e.Version,
	)
	if err != nil {
		return fmt.Errorf("saving execution: %w", err)
	}
	return nil
}

// Update persists mutated fields, enforcing optimistic locking on
// Version the same way the teacher's UPDATE ... WHERE id = $1 AND
// version = $n does.
func (r *ExecutionRepository) Update(ctx context.Context, e *execmodel.PersistedExecution) error {
	outputData, _ := json.Marshal(e.OutputData)
	vars, _ := json.Marshal(e.Vars)
	preparationData, _ := json.Marshal(e.PreparationData)
	nodeExecutions, _ := json.Marshal(e.NodeExecutions)

	var suspension []byte
	if e.Suspension != nil {
		suspension, _ = json.Marshal(e.Suspension)
	}

	var errorData []byte
	if e.Error != nil {
		errorData, _ = json.Marshal(e.Error)
	}

	metadata, _ := json.Marshal(e.Metadata)

	query := `
		UPDATE executions SET
			status = $2,
			output_data = $3,
			vars = $4,
			preparation_data = $5,
			node_executions = $6,
			suspension = $7,
			current_execution_index = $8,
			error = $9,
			started_at = $10,
			completed_at = $11,
			metadata = $12,
			updated_at = $13,
			version = $14
		WHERE id = $1 AND version = $15`

	result, err := r.db.ExecContext(ctx, query,
		e.ID.String(),
		string(e.Status),
		outputData,
		vars,
		preparationData,
		nodeExecutions,
		suspension,
		e.CurrentExecutionIndex,
		errorData,
		database.NullTime(timeOrZero(e.StartedAt)),
		database.NullTime(timeOrZero(e.CompletedAt)),
		metadata,
		time.Now(),
		e.Version+1,
		e.Version,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOptimisticLocking
	}
	return nil
}

// FindByID loads one execution by ID.
func (r *ExecutionRepository) FindByID(ctx context.Context, id execmodel.ExecutionID) (*execmodel.PersistedExecution, error) {
	query := `
		SELECT
			id, workflow_id, workflow_version, user_id, trigger_type, trigger_id,
			status, input_data, output_data, vars, preparation_data, node_executions,
			suspension, current_execution_index, error, started_at, completed_at,
			metadata, created_at, updated_at, version
		FROM executions
		WHERE id = $1`

	var row executionRow
	err := r.db.QueryRowContext(ctx, query, id.String()).Scan(
		&row.ID, &row.WorkflowID, &row.WorkflowVersion, &row.UserID, &row.TriggerType, &row.TriggerID,
		&row.Status, &row.InputData, &row.OutputData, &row.Vars, &row.PreparationData, &row.NodeExecutions,
		&row.Suspension, &row.CurrentExecutionIndex, &row.Error, &row.StartedAt, &row.CompletedAt,
		&row.Metadata, &row.CreatedAt, &row.UpdatedAt, &row.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finding execution: %w", err)
	}
	return row.toModel()
}

// FindByWorkflowID pages executions for one workflow, newest first.
func (r *ExecutionRepository) FindByWorkflowID(ctx context.Context, workflowID string, offset, limit int) ([]*execmodel.PersistedExecution, error) {
	query := `
		SELECT
			id, workflow_id, workflow_version, user_id, trigger_type, trigger_id,
			status, input_data, output_data, vars, preparation_data, node_executions,
			suspension, current_execution_index, error, started_at, completed_at,
			metadata, created_at, updated_at, version
		FROM executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, workflowID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var out []*execmodel.PersistedExecution
	for rows.Next() {
		var row executionRow
		if err := rows.Scan(
			&row.ID, &row.WorkflowID, &row.WorkflowVersion, &row.UserID, &row.TriggerType, &row.TriggerID,
			&row.Status, &row.InputData, &row.OutputData, &row.Vars, &row.PreparationData, &row.NodeExecutions,
			&row.Suspension, &row.CurrentExecutionIndex, &row.Error, &row.StartedAt, &row.CompletedAt,
			&row.Metadata, &row.CreatedAt, &row.UpdatedAt, &row.Version,
		); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindPendingResumption lists suspended executions whose suspension
// type matches one the caller's scheduler/webhook layer is sweeping for
// (e.g. "interval" on a cron tick).
func (r *ExecutionRepository) FindPendingResumption(ctx context.Context, suspensionType string, limit int) ([]*execmodel.PersistedExecution, error) {
	query := `
		SELECT
			id, workflow_id, workflow_version, user_id, trigger_type, trigger_id,
			status, input_data, output_data, vars, preparation_data, node_executions,
			suspension, current_execution_index, error, started_at, completed_at,
			metadata, created_at, updated_at, version
		FROM executions
		WHERE status = 'suspended' AND suspension->>'Type' = $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, suspensionType, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending resumptions: %w", err)
	}
	defer rows.Close()

	var out []*execmodel.PersistedExecution
	for rows.Next() {
		var row executionRow
		if err := rows.Scan(
			&row.ID, &row.WorkflowID, &row.WorkflowVersion, &row.UserID, &row.TriggerType, &row.TriggerID,
			&row.Status, &row.InputData, &row.OutputData, &row.Vars, &row.PreparationData, &row.NodeExecutions,
			&row.Suspension, &row.CurrentExecutionIndex, &row.Error, &row.StartedAt, &row.CompletedAt,
			&row.Metadata, &row.CreatedAt, &row.UpdatedAt, &row.Version,
		); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes an execution row.
func (r *ExecutionRepository) Delete(ctx context.Context, id execmodel.ExecutionID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM executions WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("deleting execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type executionRow struct {
	ID                    string
	WorkflowID            string
	WorkflowVersion       int
	UserID                string
	TriggerType           string
	TriggerID             sql.NullString
	Status                string
	InputData             []byte
	OutputData            []byte
	Vars                  []byte
	PreparationData       []byte
	NodeExecutions        []byte
	Suspension            []byte
	CurrentExecutionIndex int
	Error                 []byte
	StartedAt             sql.NullTime
	CompletedAt           sql.NullTime
	Metadata              []byte
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Version               int
}

func (row *executionRow) toModel() (*execmodel.PersistedExecution, error) {
	var inputData, outputData, vars, preparationData, metadata map[string]interface{}
	if err := unmarshalIfPresent(row.InputData, &inputData); err != nil {
		return nil, fmt.Errorf("unmarshaling input data: %w", err)
	}
	if err := unmarshalIfPresent(row.OutputData, &outputData); err != nil {
		return nil, fmt.Errorf("unmarshaling output data: %w", err)
	}
	if err := unmarshalIfPresent(row.Vars, &vars); err != nil {
		return nil, fmt.Errorf("unmarshaling vars: %w", err)
	}
	if err := unmarshalIfPresent(row.PreparationData, &preparationData); err != nil {
		return nil, fmt.Errorf("unmarshaling preparation data: %w", err)
	}
	if err := unmarshalIfPresent(row.Metadata, &metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}

	var nodeExecutions []execmodel.NodeExecution
	if len(row.NodeExecutions) > 0 {
		if err := json.Unmarshal(row.NodeExecutions, &nodeExecutions); err != nil {
			return nil, fmt.Errorf("unmarshaling node executions: %w", err)
		}
	}

	var suspension *execmodel.Suspension
	if len(row.Suspension) > 0 {
		if err := json.Unmarshal(row.Suspension, &suspension); err != nil {
			return nil, fmt.Errorf("unmarshaling suspension: %w", err)
		}
	}

	var execErr *execmodel.StructuredError
	if len(row.Error) > 0 {
		if err := json.Unmarshal(row.Error, &execErr); err != nil {
			return nil, fmt.Errorf("unmarshaling error: %w", err)
		}
	}

	var startedAt, completedAt *time.Time
	if row.StartedAt.Valid {
		startedAt = &row.StartedAt.Time
	}
	if row.CompletedAt.Valid {
		completedAt = &row.CompletedAt.Time
	}

	triggerID := ""
	if row.TriggerID.Valid {
		triggerID = row.TriggerID.String
	}

	return &execmodel.PersistedExecution{
		ID:                    execmodel.ExecutionID(row.ID),
		WorkflowID:            row.WorkflowID,
		WorkflowVersion:       row.WorkflowVersion,
		UserID:                row.UserID,
		TriggerType:           execmodel.TriggerType(row.TriggerType),
		TriggerID:             triggerID,
		Status:                execmodel.Status(row.Status),
		InputData:             inputData,
		OutputData:            outputData,
		Vars:                  vars,
		PreparationData:       preparationData,
		NodeExecutions:        nodeExecutions,
		Suspension:            suspension,
		CurrentExecutionIndex: row.CurrentExecutionIndex,
		Error:                 execErr,
		StartedAt:             startedAt,
		CompletedAt:           completedAt,
		Metadata:              metadata,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
		Version:               row.Version,
	}, nil
}

func unmarshalIfPresent(data []byte, dest *map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
