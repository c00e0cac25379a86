package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

type RentalRepository struct {
	pool *pgxpool.Pool
}

func NewRentalRepository(pool *pgxpool.Pool) *RentalRepository {
	return &RentalRepository{pool: pool}
}

const rentalColumns = `id, rental_id, phone_number, long_term, account_id, status, otp_code, expires_at, created_at, updated_at`

// Create records a new number rental
func (r *RentalRepository) Create(ctx context.Context, rental *models.Rental) error {
	query := `
		INSERT INTO automation.rentals (
			id, rental_id, phone_number, long_term, account_id, status, otp_code, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		rental.ID, rental.RentalID, rental.PhoneNumber, rental.LongTerm,
		rental.AccountID, rental.Status, rental.OTPCode, rental.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert rental: %w", err)
	}

	return nil
}

// GetByID retrieves a rental by ID
func (r *RentalRepository) GetByID(ctx context.Context, id string) (*models.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM automation.rentals WHERE id = $1`
	return r.scanRental(r.pool.QueryRow(ctx, query, id))
}

// UpdateStatus updates rental status and optionally the received OTP
func (r *RentalRepository) UpdateStatus(ctx context.Context, id, status string, otpCode *string) error {
	query := `
		UPDATE automation.rentals
		SET status = $1, otp_code = COALESCE($2, otp_code), updated_at = now()
		WHERE id = $3
	`
	_, err := r.pool.Exec(ctx, query, status, otpCode, id)
	if err != nil {
		return fmt.Errorf("update rental status: %w", err)
	}
	return nil
}

// CountActive counts rentals still waiting for SMS
func (r *RentalRepository) CountActive(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM automation.rentals WHERE status = 'waiting'`

	var count int
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rentals: %w", err)
	}
	return count, nil
}

func (r *RentalRepository) scanRental(row pgx.Row) (*models.Rental, error) {
	rental := &models.Rental{}
	err := row.Scan(
		&rental.ID, &rental.RentalID, &rental.PhoneNumber, &rental.LongTerm,
		&rental.AccountID, &rental.Status, &rental.OTPCode, &rental.ExpiresAt,
		&rental.CreatedAt, &rental.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan rental: %w", err)
	}
	return rental, nil
}
