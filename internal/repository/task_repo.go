package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

const taskColumns = `id, external_task_id, account_id, profile_id, kind, status, setup_step,
	   progress, fail_code, fail_desc, meta, started_at, ended_at, created_at, updated_at`

// Create records a dispatched remote task
func (r *TaskRepository) Create(ctx context.Context, t *models.Task) error {
	query := `
		INSERT INTO automation.tasks (
			id, external_task_id, account_id, profile_id, kind, status,
			setup_step, progress, fail_code, fail_desc, meta, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.ExternalTaskID, t.AccountID, t.ProfileID, t.Kind, t.Status,
		t.SetupStep, t.Progress, t.FailCode, t.FailDesc, t.Meta, t.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	return nil
}

// GetByExternalID retrieves a task by the provider-side task id
func (r *TaskRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM automation.tasks WHERE external_task_id = $1`
	return r.scanTask(r.pool.QueryRow(ctx, query, externalID))
}

// ListByAccount retrieves tasks for an account
func (r *TaskRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM automation.tasks
		WHERE account_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t := &models.Task{}
		err := rows.Scan(
			&t.ID, &t.ExternalTaskID, &t.AccountID, &t.ProfileID, &t.Kind, &t.Status, &t.SetupStep,
			&t.Progress, &t.FailCode, &t.FailDesc, &t.Meta, &t.StartedAt, &t.EndedAt, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateStatusByExternalID updates status and failure detail for a task.
// Terminal statuses also stamp ended_at.
func (r *TaskRepository) UpdateStatusByExternalID(ctx context.Context, externalID, status string, failCode *int, failDesc *string) error {
	var endedAt *time.Time
	switch status {
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusTimedOut, models.TaskStatusCancelled:
		now := time.Now()
		endedAt = &now
	}

	query := `
		UPDATE automation.tasks
		SET status = $1, fail_code = COALESCE($2, fail_code), fail_desc = COALESCE($3, fail_desc),
		    ended_at = COALESCE($4, ended_at), updated_at = now()
		WHERE external_task_id = $5
	`
	_, err := r.pool.Exec(ctx, query, status, failCode, failDesc, endedAt, externalID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (r *TaskRepository) scanTask(row pgx.Row) (*models.Task, error) {
	t := &models.Task{}
	err := row.Scan(
		&t.ID, &t.ExternalTaskID, &t.AccountID, &t.ProfileID, &t.Kind, &t.Status, &t.SetupStep,
		&t.Progress, &t.FailCode, &t.FailDesc, &t.Meta, &t.StartedAt, &t.EndedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}
