package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/DevGruGold/suite-sub006/internal/domain"
)

type DeviceRepository interface {
	// Upsert creates the device on first connect or refreshes its metadata
	// and observed IP list on subsequent connects.
	Upsert(ctx context.Context, device *domain.Device) error

	GetByID(ctx context.Context, id string) (*domain.Device, error)

	// SetClaimCode stores a pending claim code on the device, overwriting any
	// previous pending code.
	SetClaimCode(ctx context.Context, deviceID, code string, expiresAt time.Time) error

	// FindUnclaimedByClaimCode matches a stored code case-insensitively
	// against unclaimed devices. Expiry is checked lazily by the caller; the
	// row is never proactively purged.
	FindUnclaimedByClaimCode(ctx context.Context, code string) (*domain.Device, error)

	// Claim binds the device to a user and clears any pending claim code in
	// one conditional write. Returns ErrAlreadyClaimed if another user got
	// there first.
	Claim(ctx context.Context, deviceID string, userID uuid.UUID, at time.Time) error

	// Unclaim releases ownership. The caller verifies ownership beforehand;
	// the write is still conditional on claimed_by matching.
	Unclaim(ctx context.Context, deviceID string, userID uuid.UUID) error

	ListByClaimedBy(ctx context.Context, userID uuid.UUID) ([]*domain.Device, error)

	// UpdateLocation persists a geolocation snapshot. Called fire-and-forget.
	UpdateLocation(ctx context.Context, deviceID string, loc *domain.Location) error
}
