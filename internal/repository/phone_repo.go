package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

type PhoneRepository struct {
	pool *pgxpool.Pool
}

func NewPhoneRepository(pool *pgxpool.Pool) *PhoneRepository {
	return &PhoneRepository{pool: pool}
}

// Create records a new cloud phone profile
func (r *PhoneRepository) Create(ctx context.Context, p *models.Phone) error {
	query := `
		INSERT INTO automation.phones (
			profile_id, profile_name, device_model, android_version, group_name, status, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		p.ProfileID, p.ProfileName, p.DeviceModel, p.AndroidVersion, p.GroupName, p.Status, p.Meta,
	)
	if err != nil {
		return fmt.Errorf("insert phone: %w", err)
	}

	return nil
}

// UpdateStatus updates the running state; started transitions also stamp
// phone_started_at.
func (r *PhoneRepository) UpdateStatus(ctx context.Context, profileID, status string) error {
	var startedAt *time.Time
	if status == models.PhoneStatusStarted {
		now := time.Now()
		startedAt = &now
	}

	query := `
		UPDATE automation.phones
		SET status = $1, phone_started_at = COALESCE($2, phone_started_at), updated_at = now()
		WHERE profile_id = $3
	`
	_, err := r.pool.Exec(ctx, query, status, startedAt, profileID)
	if err != nil {
		return fmt.Errorf("update phone status: %w", err)
	}
	return nil
}
