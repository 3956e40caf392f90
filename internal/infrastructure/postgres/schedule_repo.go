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

const scheduleColumns = `id, workspace_id, name, collection_id, environment_id, cron_expr,
		       timezone, status, last_run_at, next_run_at, created_at, updated_at`

type ScheduleRepository struct {
	pool *pgxpool.Pool
}

func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) Create(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	query := `
		INSERT INTO schedules (
			workspace_id, name, collection_id, environment_id, cron_expr,
			timezone, status, next_run_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + scheduleColumns

	row := r.pool.QueryRow(ctx, query,
		s.WorkspaceID, s.Name, s.CollectionID, s.EnvironmentID, s.CronExpr,
		s.Timezone, s.Status, s.NextRunAt,
	)
	created, err := scanSchedule(row)
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return created, nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	return scanSchedule(row)
}

func (r *ScheduleRepository) List(ctx context.Context, input repository.ListSchedulesInput) ([]*domain.Schedule, error) {
	var (
		args  []any
		where = []string{"TRUE"}
	)
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
		FROM schedules
		WHERE %s
		ORDER BY created_at DESC, id DESC`,
		scheduleColumns, strings.Join(where, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return schedules, nil
}

func (r *ScheduleRepository) Update(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	query := `
		UPDATE schedules SET
			name = $2, collection_id = $3, environment_id = $4, cron_expr = $5,
			timezone = $6, status = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + scheduleColumns

	row := r.pool.QueryRow(ctx, query,
		s.ID, s.Name, s.CollectionID, s.EnvironmentID, s.CronExpr,
		s.Timezone, s.Status,
	)
	return scanSchedule(row)
}

func (r *ScheduleRepository) RecordRun(ctx context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE schedules SET last_run_at = $2, next_run_at = $3, updated_at = NOW() WHERE id = $1`,
		id, lastRunAt, nextRunAt)
	if err != nil {
		return storeErr("record run", err, domain.ErrScheduleNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (r *ScheduleRepository) SetNextRunAt(ctx context.Context, id string, nextRunAt *time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE schedules SET next_run_at = $2, updated_at = NOW() WHERE id = $1`,
		id, nextRunAt)
	if err != nil {
		return storeErr("set next run", err, domain.ErrScheduleNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete schedule", err, domain.ErrScheduleNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var s domain.Schedule
	err := row.Scan(
		&s.ID, &s.WorkspaceID, &s.Name, &s.CollectionID, &s.EnvironmentID, &s.CronExpr,
		&s.Timezone, &s.Status, &s.LastRunAt, &s.NextRunAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, storeErr("scan schedule", err, domain.ErrScheduleNotFound)
	}
	return &s, nil
}
