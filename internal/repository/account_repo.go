package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

var ErrNotFound = errors.New("not found")

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create creates a new account
func (r *AccountRepository) Create(ctx context.Context, acc *models.Account) error {
	query := `
		INSERT INTO automation.accounts (
			id, username, status, profile_id, proxy_id, credential_id, rental_id,
			task_id, setup_progress, current_setup_step, last_error, meta
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.pool.Exec(ctx, query,
		acc.ID, acc.Username, acc.Status, acc.ProfileID, acc.ProxyID, acc.CredentialID, acc.RentalID,
		acc.TaskID, acc.SetupProgress, acc.CurrentSetupStep, acc.LastError, acc.Meta,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `
		SELECT id, username, status, profile_id, proxy_id, credential_id, rental_id,
			   task_id, setup_progress, current_setup_step, last_error, meta,
			   created_at, updated_at
		FROM automation.accounts
		WHERE id = $1
	`

	return r.scanAccount(r.pool.QueryRow(ctx, query, id))
}

// List retrieves recent accounts
func (r *AccountRepository) List(ctx context.Context, limit int) ([]*models.Account, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, username, status, profile_id, proxy_id, credential_id, rental_id,
			   task_id, setup_progress, current_setup_step, last_error, meta,
			   created_at, updated_at
		FROM automation.accounts
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	return r.scanAccounts(rows)
}

// Update updates the mutable account fields
func (r *AccountRepository) Update(ctx context.Context, acc *models.Account) error {
	query := `
		UPDATE automation.accounts SET
			username = $1,
			status = $2,
			profile_id = $3,
			proxy_id = $4,
			credential_id = $5,
			rental_id = $6,
			task_id = $7,
			setup_progress = $8,
			current_setup_step = $9,
			last_error = $10,
			meta = $11,
			updated_at = now()
		WHERE id = $12
	`

	_, err := r.pool.Exec(ctx, query,
		acc.Username, acc.Status, acc.ProfileID, acc.ProxyID,
		acc.CredentialID, acc.RentalID, acc.TaskID,
		acc.SetupProgress, acc.CurrentSetupStep, acc.LastError, acc.Meta,
		acc.ID,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	return nil
}

// UpdateStatus updates status, progress and current step in one write
func (r *AccountRepository) UpdateStatus(ctx context.Context, id, status string, progress int, currentStep *string) error {
	query := `
		UPDATE automation.accounts
		SET status = $1, setup_progress = $2, current_setup_step = $3, updated_at = now()
		WHERE id = $4
	`
	_, err := r.pool.Exec(ctx, query, status, progress, currentStep, id)
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	return nil
}

// SetTaskID stores the remote login task id. The lifecycle monitor reads
// this back, so callers treat a failure here as fatal.
func (r *AccountRepository) SetTaskID(ctx context.Context, id, taskID string) error {
	query := `UPDATE automation.accounts SET task_id = $1, updated_at = now() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, query, taskID, id)
	if err != nil {
		return fmt.Errorf("set account task id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetError records the last error without touching status
func (r *AccountRepository) SetError(ctx context.Context, id, errorMsg string) error {
	query := `UPDATE automation.accounts SET last_error = $1, updated_at = now() WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, errorMsg, id)
	if err != nil {
		return fmt.Errorf("set account error: %w", err)
	}
	return nil
}

func (r *AccountRepository) scanAccount(row pgx.Row) (*models.Account, error) {
	acc := &models.Account{}
	err := row.Scan(
		&acc.ID, &acc.Username, &acc.Status, &acc.ProfileID, &acc.ProxyID, &acc.CredentialID, &acc.RentalID,
		&acc.TaskID, &acc.SetupProgress, &acc.CurrentSetupStep, &acc.LastError, &acc.Meta,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) scanAccounts(rows pgx.Rows) ([]*models.Account, error) {
	var accounts []*models.Account
	for rows.Next() {
		acc := &models.Account{}
		err := rows.Scan(
			&acc.ID, &acc.Username, &acc.Status, &acc.ProfileID, &acc.ProxyID, &acc.CredentialID, &acc.RentalID,
			&acc.TaskID, &acc.SetupProgress, &acc.CurrentSetupStep, &acc.LastError, &acc.Meta,
			&acc.CreatedAt, &acc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}
