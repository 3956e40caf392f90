package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const executionColumns = `id, schedule_id, workspace_id, collection_id, environment_id,
		       status, triggered_by, started_at, completed_at, duration_ms,
		       total_requests, passed_requests, failed_requests, error_count,
		       logs, metadata`

type ExecutionRepository struct {
	pool *pgxpool.Pool
}

func NewExecutionRepository(pool *pgxpool.Pool) *ExecutionRepository {
	return &ExecutionRepository{pool: pool}
}

func (r *ExecutionRepository) Create(ctx context.Context, e *domain.Execution) (*domain.Execution, error) {
	query := `
		INSERT INTO executions (
			schedule_id, workspace_id, collection_id, environment_id,
			status, triggered_by, started_at, logs, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + executionColumns

	row := r.pool.QueryRow(ctx, query,
		e.ScheduleID, e.WorkspaceID, e.CollectionID, e.EnvironmentID,
		e.Status, e.TriggeredBy, e.StartedAt, nonNilLogs(e.Logs), nonNilMetadata(e.Metadata),
	)
	created, err := scanExecution(row)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return created, nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	return scanExecution(row)
}

func (r *ExecutionRepository) List(ctx context.Context, input repository.ListExecutionsInput) ([]*domain.Execution, error) {
	var (
		args  []any
		where = []string{"TRUE"}
	)
	if input.ScheduleID != "" {
		args = append(args, input.ScheduleID)
		where = append(where, fmt.Sprintf("schedule_id = $%d", len(args)))
	}
	if input.WorkspaceID != "" {
		args = append(args, input.WorkspaceID)
		where = append(where, fmt.Sprintf("workspace_id = $%d", len(args)))
	}
	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM executions
		WHERE %s
		ORDER BY started_at DESC, created_at DESC`,
		executionColumns, strings.Join(where, " AND "))
	if input.Limit > 0 {
		args = append(args, input.Limit)
		query += fmt.Sprintf("\n\t\tLIMIT $%d", len(args))
	}

	return r.query(ctx, query, args...)
}

func (r *ExecutionRepository) Complete(ctx context.Context, e *domain.Execution) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions SET
			status = $2, completed_at = $3, duration_ms = $4,
			total_requests = $5, passed_requests = $6, failed_requests = $7, error_count = $8,
			logs = $9, metadata = $10, updated_at = NOW()
		WHERE id = $1 AND status = 'running'`,
		e.ID, e.Status, e.CompletedAt, e.DurationMS,
		e.TotalRequests, e.PassedRequests, e.FailedRequests, e.ErrorCount,
		nonNilLogs(e.Logs), nonNilMetadata(e.Metadata),
	)
	if err != nil {
		return storeErr("complete execution", err, domain.ErrExecutionNotFound)
	}
	if tag.RowsAffected() == 0 {
		return r.notRunning(ctx, e.ID)
	}
	return nil
}

func (r *ExecutionRepository) Cancel(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions SET
			status = 'cancelled', completed_at = $2,
			duration_ms = (EXTRACT(EPOCH FROM ($2 - started_at)) * 1000)::BIGINT,
			updated_at = NOW()
		WHERE id = $1 AND status = 'running'`,
		id, at)
	if err != nil {
		return storeErr("cancel execution", err, domain.ErrExecutionNotFound)
	}
	if tag.RowsAffected() == 0 {
		return r.notRunning(ctx, id)
	}
	return nil
}

func (r *ExecutionRepository) ListPendingRetries(ctx context.Context, maxRetries int) ([]*domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions e
		WHERE e.status = 'failed'
		  AND e.metadata ? 'nextRetryAt'
		  AND COALESCE((e.metadata->>'retryCount')::INT, 0) < $1
		  AND NOT EXISTS (
		      SELECT 1 FROM executions r WHERE r.metadata->>'retryOf' = e.id::TEXT
		  )
		ORDER BY (e.metadata->>'nextRetryAt')::TIMESTAMPTZ ASC`

	return r.query(ctx, query, maxRetries)
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Execution, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var executions []*domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return executions, nil
}

// notRunning distinguishes a missing record from one that already left running.
func (r *ExecutionRepository) notRunning(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrExecutionNotRunning
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var e domain.Execution
	err := row.Scan(
		&e.ID, &e.ScheduleID, &e.WorkspaceID, &e.CollectionID, &e.EnvironmentID,
		&e.Status, &e.TriggeredBy, &e.StartedAt, &e.CompletedAt, &e.DurationMS,
		&e.TotalRequests, &e.PassedRequests, &e.FailedRequests, &e.ErrorCount,
		&e.Logs, &e.Metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, storeErr("scan execution", err, domain.ErrExecutionNotFound)
	}
	return &e, nil
}

// The columns are NOT NULL; pgx encodes nil slices and maps as NULL.
func nonNilLogs(logs []string) []string {
	if logs == nil {
		return []string{}
	}
	return logs
}

func nonNilMetadata(md domain.Metadata) domain.Metadata {
	if md == nil {
		return domain.Metadata{}
	}
	return md
}
