package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

const credentialColumns = `id, email, password, status, creator_name, last_used_at, created_at, updated_at`

// GetByID retrieves a credential by ID
func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM automation.credentials WHERE id = $1`
	return r.scanCredential(r.pool.QueryRow(ctx, query, id))
}

// TakeLeastRecentlyUsed picks the active credential that was used longest
// ago and stamps last_used_at in the same statement, so concurrent setups
// never hand out the same credential twice in a row.
func (r *CredentialRepository) TakeLeastRecentlyUsed(ctx context.Context) (*models.Credential, error) {
	query := `
		UPDATE automation.credentials SET
			last_used_at = now(),
			updated_at = now()
		WHERE id = (
			SELECT id FROM automation.credentials
			WHERE status = 'active'
			ORDER BY last_used_at NULLS FIRST, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + credentialColumns

	return r.scanCredential(r.pool.QueryRow(ctx, query))
}

// MarkUsed stamps last_used_at on a specific credential
func (r *CredentialRepository) MarkUsed(ctx context.Context, id string) error {
	query := `UPDATE automation.credentials SET last_used_at = now(), updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark credential used: %w", err)
	}
	return nil
}

func (r *CredentialRepository) scanCredential(row pgx.Row) (*models.Credential, error) {
	c := &models.Credential{}
	err := row.Scan(
		&c.ID, &c.Email, &c.Password, &c.Status, &c.CreatorName, &c.LastUsedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return c, nil
}
