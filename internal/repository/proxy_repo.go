package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

type ProxyRepository struct {
	pool *pgxpool.Pool
}

func NewProxyRepository(pool *pgxpool.Pool) *ProxyRepository {
	return &ProxyRepository{pool: pool}
}

const proxyColumns = `id, source, scheme, host, port, username, password, group_name,
	   provider_proxy_id, assigned_account_id, is_active, created_at, updated_at`

// Create inserts a proxy into the pool
func (r *ProxyRepository) Create(ctx context.Context, p *models.Proxy) error {
	query := `
		INSERT INTO automation.proxies (
			id, source, scheme, host, port, username, password, group_name,
			provider_proxy_id, assigned_account_id, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.Source, p.Scheme, p.Host, p.Port, p.Username, p.Password, p.GroupName,
		p.ProviderProxyID, p.AssignedAccountID, p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert proxy: %w", err)
	}

	return nil
}

// GetByID retrieves a proxy by ID
func (r *ProxyRepository) GetByID(ctx context.Context, id string) (*models.Proxy, error) {
	query := `SELECT ` + proxyColumns + ` FROM automation.proxies WHERE id = $1`
	return r.scanProxy(r.pool.QueryRow(ctx, query, id))
}

// ClaimNext atomically claims one unassigned active proxy for an account.
// The claim is a single conditional UPDATE so two concurrent callers can
// never take the same row. excludeIDs skips proxies already claimed or
// tried within the current batch.
func (r *ProxyRepository) ClaimNext(ctx context.Context, accountID string, groupName *string, excludeIDs []string) (*models.Proxy, error) {
	query := `
		UPDATE automation.proxies SET
			assigned_account_id = $1,
			updated_at = now()
		WHERE id = (
			SELECT id FROM automation.proxies
			WHERE assigned_account_id IS NULL
			  AND is_active
			  AND ($2::text IS NULL OR group_name = $2)
			  AND NOT (id = ANY($3::uuid[]))
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + proxyColumns

	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	return r.scanProxy(r.pool.QueryRow(ctx, query, accountID, groupName, excludeIDs))
}

// ClaimByID claims a specific proxy if it is still unassigned
func (r *ProxyRepository) ClaimByID(ctx context.Context, id, accountID string) (*models.Proxy, error) {
	query := `
		UPDATE automation.proxies SET
			assigned_account_id = $1,
			updated_at = now()
		WHERE id = $2 AND assigned_account_id IS NULL AND is_active
		RETURNING ` + proxyColumns

	return r.scanProxy(r.pool.QueryRow(ctx, query, accountID, id))
}

// Release clears the claim on a proxy
func (r *ProxyRepository) Release(ctx context.Context, id string) error {
	query := `UPDATE automation.proxies SET assigned_account_id = NULL, updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("release proxy: %w", err)
	}
	return nil
}

// GetRandomAssigned returns a random already-claimed pool proxy. Used when
// a batch exhausts the pool and falls back to re-using proxies.
func (r *ProxyRepository) GetRandomAssigned(ctx context.Context, groupName *string) (*models.Proxy, error) {
	query := `
		SELECT ` + proxyColumns + `
		FROM automation.proxies
		WHERE assigned_account_id IS NOT NULL
		  AND is_active
		  AND ($1::text IS NULL OR group_name = $1)
		ORDER BY random()
		LIMIT 1
	`

	return r.scanProxy(r.pool.QueryRow(ctx, query, groupName))
}

// CountUnassigned counts claimable proxies
func (r *ProxyRepository) CountUnassigned(ctx context.Context, groupName *string) (int, error) {
	query := `
		SELECT COUNT(*) FROM automation.proxies
		WHERE assigned_account_id IS NULL AND is_active
		  AND ($1::text IS NULL OR group_name = $1)
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, groupName).Scan(&count); err != nil {
		return 0, fmt.Errorf("count proxies: %w", err)
	}
	return count, nil
}

func (r *ProxyRepository) scanProxy(row pgx.Row) (*models.Proxy, error) {
	p := &models.Proxy{}
	err := row.Scan(
		&p.ID, &p.Source, &p.Scheme, &p.Host, &p.Port, &p.Username, &p.Password, &p.GroupName,
		&p.ProviderProxyID, &p.AssignedAccountID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan proxy: %w", err)
	}
	return p, nil
}
