package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowpilot/flowpilot/common/db"
	"github.com/flowpilot/flowpilot/common/models"
)

// ExecutionRepository handles database operations for executions and their
// node rows.
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Create inserts a new execution
func (r *ExecutionRepository) Create(ctx context.Context, exec *models.Execution) error {
	inputs, err := json.Marshal(exec.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}

	query := `
		INSERT INTO executions (id, workflow_name, workflow_path, status, trigger_type, inputs, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		exec.ID,
		exec.WorkflowName,
		exec.WorkflowPath,
		string(exec.Status),
		exec.TriggerType,
		string(inputs),
		exec.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// UpdateStatus updates the status of a running execution
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, id string, status models.ExecutionStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE executions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	return nil
}

// Finish stamps a terminal status, finished_at, duration and optional error
func (r *ExecutionRepository) Finish(ctx context.Context, id string, status models.ExecutionStatus, execErr *string) error {
	query := `
		UPDATE executions
		SET status = ?,
		    finished_at = ?,
		    duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER),
		    error = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query, string(status), now, now, execErr, id)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	return nil
}

// GetByID retrieves an execution by its ID
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `
		SELECT id, workflow_name, workflow_path, status, trigger_type, inputs,
		       started_at, finished_at, duration_ms, error
		FROM executions
		WHERE id = ?
	`
	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Workflow string
	Status   string
	Limit    int
	Offset   int
}

// List retrieves executions, most recent first
func (r *ExecutionRepository) List(ctx context.Context, filter ListFilter) ([]*models.Execution, error) {
	query := `
		SELECT id, workflow_name, workflow_path, status, trigger_type, inputs,
		       started_at, finished_at, duration_ms, error
		FROM executions
		WHERE (? = '' OR workflow_name = ?)
		  AND (? = '' OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, query,
		filter.Workflow, filter.Workflow,
		filter.Status, filter.Status,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return execs, nil
}

// Delete removes an execution; node rows cascade
func (r *ExecutionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	return nil
}

// CleanupOld removes executions started before now minus the given number of
// days, with their node rows, in one transaction. Returns the number of
// executions removed.
func (r *ExecutionRepository) CleanupOld(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var n int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM node_executions
			WHERE execution_id IN (SELECT id FROM executions WHERE started_at < ?)
		`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to clean up node rows: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE started_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to clean up executions: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count cleaned rows: %w", err)
		}
		return nil
	})
	return n, err
}

// Stats aggregates executions, optionally for a single workflow
func (r *ExecutionRepository) Stats(ctx context.Context, workflow string) (*models.ExecutionStats, error) {
	stats := &models.ExecutionStats{ByStatus: map[string]int64{}}

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(AVG(duration_ms), 0)
		FROM executions
		WHERE (? = '' OR workflow_name = ?)
		GROUP BY status
	`, workflow, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate executions: %w", err)
	}
	defer rows.Close()

	var weighted float64
	for rows.Next() {
		var status string
		var count int64
		var avg float64
		if err := rows.Scan(&status, &count, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
		weighted += avg * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}
	if stats.Total > 0 {
		stats.AvgMS = weighted / float64(stats.Total)
	}

	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT workflow_name) FROM executions WHERE (? = '' OR workflow_name = ?)
	`, workflow, workflow).Scan(&stats.Workflows); err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	return stats, nil
}

// CreateNode inserts a node execution row
func (r *ExecutionRepository) CreateNode(ctx context.Context, node *models.NodeExecution) error {
	query := `
		INSERT INTO node_executions (execution_id, node_id, node_type, status,
		                             started_at, finished_at, duration_ms, stdout, stderr, output, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		node.ExecutionID,
		node.NodeID,
		node.NodeType,
		string(node.Status),
		node.StartedAt,
		node.FinishedAt,
		node.DurationMS,
		node.Stdout,
		node.Stderr,
		node.Output,
		node.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create node execution: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		node.ID = id
	}
	return nil
}

// ListNodes retrieves all node rows for an execution in insertion order
func (r *ExecutionRepository) ListNodes(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	return r.listNodes(ctx, executionID, -1, 0)
}

// ListNodesPage retrieves one page of node rows plus the total count
func (r *ExecutionRepository) ListNodesPage(ctx context.Context, executionID string, page, pageSize int) ([]*models.NodeExecution, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM node_executions WHERE execution_id = ?`, executionID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count node executions: %w", err)
	}

	nodes, err := r.listNodes(ctx, executionID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	return nodes, total, nil
}

func (r *ExecutionRepository) listNodes(ctx context.Context, executionID string, limit, offset int) ([]*models.NodeExecution, error) {
	query := `
		SELECT id, execution_id, node_id, node_type, status,
		       started_at, finished_at, duration_ms, stdout, stderr, output, error
		FROM node_executions
		WHERE execution_id = ?
		ORDER BY id
	`
	args := []any{executionID}
	if limit >= 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}
	defer rows.Close()

	var nodes []*models.NodeExecution
	for rows.Next() {
		node := &models.NodeExecution{}
		err := rows.Scan(
			&node.ID,
			&node.ExecutionID,
			&node.NodeID,
			&node.NodeType,
			&node.Status,
			&node.StartedAt,
			&node.FinishedAt,
			&node.DurationMS,
			&node.Stdout,
			&node.Stderr,
			&node.Output,
			&node.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node executions: %w", err)
	}
	return nodes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	exec := &models.Execution{}
	var inputs string
	err := row.Scan(
		&exec.ID,
		&exec.WorkflowName,
		&exec.WorkflowPath,
		&exec.Status,
		&exec.TriggerType,
		&inputs,
		&exec.StartedAt,
		&exec.FinishedAt,
		&exec.DurationMS,
		&exec.Error,
	)
	if err != nil {
		return nil, err
	}
	if inputs != "" {
		if err := json.Unmarshal([]byte(inputs), &exec.Inputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inputs: %w", err)
		}
	}
	return exec, nil
}
