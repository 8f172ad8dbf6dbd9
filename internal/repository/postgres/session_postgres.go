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

type sessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db *sqlx.DB) repository.SessionRepository {
	return &sessionRepository{db: db}
}

const sessionColumns = `
	id, device_id, session_key, connected_at, disconnected_at,
	last_heartbeat_at, is_active, battery_level_start,
	battery_level_current, battery_level_end, ip_address,
	user_agent, location_data`

// Create inserts a new session row
func (r *sessionRepository) Create(ctx context.Context, session *domain.ConnectionSession) error {
	query := `
		INSERT INTO connection_sessions (
			id, device_id, session_key, connected_at, last_heartbeat_at,
			is_active, battery_level_start, battery_level_current,
			ip_address, user_agent, location_data
		) VALUES (
			:id, :device_id, :session_key, :connected_at, :last_heartbeat_at,
			:is_active, :battery_level_start, :battery_level_current,
			:ip_address, :user_agent, :location_data
		)`

	_, err := r.db.NamedExecContext(ctx, query, session)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// FindByIDOrKey resolves a session reference that may be a UUID or a key.
// Clients cache either value locally, so both lookups are attempted.
func (r *sessionRepository) FindByIDOrKey(ctx context.Context, ref string) (*domain.ConnectionSession, error) {
	var session domain.ConnectionSession

	if id, parseErr := uuid.Parse(ref); parseErr == nil && len(ref) == 36 {
		query := `
			SELECT ` + sessionColumns + `
			FROM connection_sessions
			WHERE id = $1 AND is_active = true`

		err := r.db.GetContext(ctx, &session, query, id)
		if err == nil {
			return &session, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to get session by id: %w", err)
		}
		// fall through to the session_key lookup
	}

	query := `
		SELECT ` + sessionColumns + `
		FROM connection_sessions
		WHERE session_key = $1 AND is_active = true
		ORDER BY connected_at DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &session, query, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session by key: %w", err)
	}

	return &session, nil
}

// UpdateHeartbeat refreshes the heartbeat timestamp and revives the session
func (r *sessionRepository) UpdateHeartbeat(ctx context.Context, id uuid.UUID, at time.Time, batteryLevel *float64) error {
	query := `
		UPDATE connection_sessions
		SET last_heartbeat_at = $2,
			is_active = true,
			battery_level_current = COALESCE($3, battery_level_current)
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, at, batteryLevel)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
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

// Close ends a session
func (r *sessionRepository) Close(ctx context.Context, id uuid.UUID, at time.Time, batteryLevelEnd *float64) error {
	query := `
		UPDATE connection_sessions
		SET is_active = false,
			disconnected_at = $2,
			battery_level_end = COALESCE($3, battery_level_end)
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, at, batteryLevelEnd)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
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

// ListActiveSince returns active sessions with a heartbeat newer than cutoff
func (r *sessionRepository) ListActiveSince(ctx context.Context, cutoff time.Time) ([]*domain.ConnectionSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM connection_sessions
		WHERE is_active = true AND last_heartbeat_at > $1
		ORDER BY last_heartbeat_at DESC`

	var sessions []*domain.ConnectionSession
	err := r.db.SelectContext(ctx, &sessions, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	return sessions, nil
}

// LatestActiveByDevice returns the device's most recently connected active session
func (r *sessionRepository) LatestActiveByDevice(ctx context.Context, deviceID string) (*domain.ConnectionSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM connection_sessions
		WHERE device_id = $1 AND is_active = true
		ORDER BY connected_at DESC
		LIMIT 1`

	var session domain.ConnectionSession
	err := r.db.GetContext(ctx, &session, query, deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest session for device: %w", err)
	}

	return &session, nil
}
