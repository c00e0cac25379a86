package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Create creates a new setup log entry
func (r *LogRepository) Create(ctx context.Context, logEntry *models.SetupLog) error {
	if logEntry.ID == "" {
		logEntry.ID = uuid.New().String()
	}
	if logEntry.Level == "" {
		logEntry.Level = "info"
	}

	query := `
		INSERT INTO automation.logs (id, level, component, account_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		logEntry.ID, logEntry.Level, logEntry.Component, logEntry.AccountID, logEntry.Message, logEntry.Meta,
	)
	if err != nil {
		return fmt.Errorf("insert setup log: %w", err)
	}

	return nil
}

// GetByAccountID retrieves logs for an account
func (r *LogRepository) GetByAccountID(ctx context.Context, accountID string, limit int) ([]*models.SetupLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, level, component, account_id, message, meta, created_at
		FROM automation.logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query setup logs: %w", err)
	}
	defer rows.Close()

	var logEntries []*models.SetupLog
	for rows.Next() {
		logEntry := &models.SetupLog{}
		err := rows.Scan(
			&logEntry.ID, &logEntry.Level, &logEntry.Component, &logEntry.AccountID,
			&logEntry.Message, &logEntry.Meta, &logEntry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan setup log: %w", err)
		}
		logEntries = append(logEntries, logEntry)
	}

	return logEntries, rows.Err()
}

// Log is a helper to append a log entry for an account
func (r *LogRepository) Log(ctx context.Context, level, component, accountID, message string) error {
	var accID *string
	if accountID != "" {
		accID = &accountID
	}
	logEntry := &models.SetupLog{
		Level:     level,
		Component: component,
		AccountID: accID,
		Message:   message,
	}
	return r.Create(ctx, logEntry)
}

// LogWithMeta is a helper to append a log entry with metadata
func (r *LogRepository) LogWithMeta(ctx context.Context, level, component, accountID, message string, meta map[string]interface{}) error {
	var accID *string
	if accountID != "" {
		accID = &accountID
	}
	logEntry := &models.SetupLog{
		Level:     level,
		Component: component,
		AccountID: accID,
		Message:   message,
		Meta:      meta,
	}
	return r.Create(ctx, logEntry)
}
