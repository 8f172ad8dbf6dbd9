package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/DevGruGold/suite-sub006/internal/domain"
	"github.com/DevGruGold/suite-sub006/internal/repository"
)

type deviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository creates a new PostgreSQL device repository
func NewDeviceRepository(db *sqlx.DB) repository.DeviceRepository {
	return &deviceRepository{db: db}
}

const deviceColumns = `
	id, fingerprint, device_type, os, browser, last_known_location,
	ip_addresses, claimed_by, claimed_at, claim_code,
	claim_code_expires_at, created_at, updated_at`

// Upsert creates the device or refreshes metadata and the observed IP list.
// The IP list keeps the newest address first and is capped at ten entries.
func (r *deviceRepository) Upsert(ctx context.Context, device *domain.Device) error {
	query := `
		INSERT INTO devices (
			id, fingerprint, device_type, os, browser,
			ip_addresses, created_at, updated_at
		) VALUES (
			:id, :fingerprint, :device_type, :os, :browser,
			:ip_addresses, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			device_type = CASE WHEN EXCLUDED.device_type <> '' THEN EXCLUDED.device_type ELSE devices.device_type END,
			os = CASE WHEN EXCLUDED.os <> '' THEN EXCLUDED.os ELSE devices.os END,
			browser = CASE WHEN EXCLUDED.browser <> '' THEN EXCLUDED.browser ELSE devices.browser END,
			ip_addresses = CASE
				WHEN devices.ip_addresses @> EXCLUDED.ip_addresses THEN devices.ip_addresses
				ELSE (EXCLUDED.ip_addresses || devices.ip_addresses)[1:10]
			END,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.NamedExecContext(ctx, query, device)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// GetByID retrieves a device by its ID
func (r *deviceRepository) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE id = $1`

	var device domain.Device
	err := r.db.GetContext(ctx, &device, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device by id: %w", err)
	}

	return &device, nil
}

// SetClaimCode stores a pending claim code, overwriting any previous one
func (r *deviceRepository) SetClaimCode(ctx context.Context, deviceID, code string, expiresAt time.Time) error {
	query := `
		UPDATE devices
		SET claim_code = $2,
			claim_code_expires_at = $3,
			updated_at = $4
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, deviceID, code, expiresAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set claim code: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// FindUnclaimedByClaimCode matches a code case-insensitively against
// unclaimed devices. Expired rows are still returned; expiry is the
// caller's lazy check, no background sweep purges codes.
func (r *deviceRepository) FindUnclaimedByClaimCode(ctx context.Context, code string) (*domain.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE UPPER(claim_code) = UPPER($1) AND claimed_by IS NULL
		LIMIT 1`

	var device domain.Device
	err := r.db.GetContext(ctx, &device, query, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find device by claim code: %w", err)
	}

	return &device, nil
}

// Claim binds the device to a user only if it is currently unclaimed, and
// clears the single-use code in the same write.
func (r *deviceRepository) Claim(ctx context.Context, deviceID string, userID uuid.UUID, at time.Time) error {
	query := `
		UPDATE devices
		SET claimed_by = $2,
			claimed_at = $3,
			claim_code = NULL,
			claim_code_expires_at = NULL,
			updated_at = $3
		WHERE id = $1 AND claimed_by IS NULL`

	result, err := r.db.ExecContext(ctx, query, deviceID, userID, at)
	if err != nil {
		return fmt.Errorf("failed to claim device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return repository.ErrConflict
	}

	return nil
}

// Unclaim releases ownership, conditional on the owner matching
func (r *deviceRepository) Unclaim(ctx context.Context, deviceID string, userID uuid.UUID) error {
	query := `
		UPDATE devices
		SET claimed_by = NULL,
			claimed_at = NULL,
			updated_at = $3
		WHERE id = $1 AND claimed_by = $2`

	result, err := r.db.ExecContext(ctx, query, deviceID, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to unclaim device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return repository.ErrConflict
	}

	return nil
}

// ListByClaimedBy retrieves all devices owned by a user
func (r *deviceRepository) ListByClaimedBy(ctx context.Context, userID uuid.UUID) ([]*domain.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE claimed_by = $1
		ORDER BY updated_at DESC`

	var devices []*domain.Device
	err := r.db.SelectContext(ctx, &devices, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices by owner: %w", err)
	}

	return devices, nil
}

// UpdateLocation persists a geolocation snapshot
func (r *deviceRepository) UpdateLocation(ctx context.Context, deviceID string, loc *domain.Location) error {
	query := `
		UPDATE devices
		SET last_known_location = $2,
			updated_at = $3
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, deviceID, loc, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update device location: %w", err)
	}

	return nil
}
