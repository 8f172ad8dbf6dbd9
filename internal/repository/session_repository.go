package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/DevGruGold/suite-sub006/internal/domain"
)

type SessionRepository interface {
	// Create inserts a new session row. Connect never dedupes against
	// existing open sessions for the same device.
	Create(ctx context.Context, session *domain.ConnectionSession) error

	// FindByIDOrKey resolves a client-supplied reference that may be either
	// the session UUID or the opaque session key. UUID-shaped references are
	// tried by id first; either way an active session_key match is the
	// fallback (most recently connected wins). Exhausting both paths yields
	// ErrNotFound.
	FindByIDOrKey(ctx context.Context, ref string) (*domain.ConnectionSession, error)

	// UpdateHeartbeat sets last_heartbeat_at and forces is_active back on,
	// reviving a session the classifier would otherwise call stale.
	UpdateHeartbeat(ctx context.Context, id uuid.UUID, at time.Time, batteryLevel *float64) error

	// Close ends a session: is_active=false, disconnected_at set, optional
	// final battery reading.
	Close(ctx context.Context, id uuid.UUID, at time.Time, batteryLevelEnd *float64) error

	// ListActiveSince returns active sessions whose last heartbeat is newer
	// than the cutoff. Liveness classification happens in the service.
	ListActiveSince(ctx context.Context, cutoff time.Time) ([]*domain.ConnectionSession, error)

	// LatestActiveByDevice returns the device's most recently connected
	// active session, if any.
	LatestActiveByDevice(ctx context.Context, deviceID string) (*domain.ConnectionSession, error)
}
