package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/DevGruGold/suite-sub006/internal/domain"
	"github.com/DevGruGold/suite-sub006/internal/repository"
)

type commandRepository struct {
	db *sqlx.DB
}

// NewCommandRepository creates a new PostgreSQL command repository
func NewCommandRepository(db *sqlx.DB) repository.CommandRepository {
	return &commandRepository{db: db}
}

const commandColumns = `
	id, session_id, target_all, command_type, payload,
	status, priority, issued_at, sent_at`

// Create queues a new command
func (r *commandRepository) Create(ctx context.Context, cmd *domain.EngagementCommand) error {
	query := `
		INSERT INTO engagement_commands (
			id, session_id, target_all, command_type, payload,
			status, priority, issued_at
		) VALUES (
			:id, :session_id, :target_all, :command_type, :payload,
			:status, :priority, :issued_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, cmd)
	if err != nil {
		return fmt.Errorf("failed to create command: %w", err)
	}

	return nil
}

// GetByID retrieves a command by its ID
func (r *commandRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.EngagementCommand, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM engagement_commands
		WHERE id = $1`

	var cmd domain.EngagementCommand
	err := r.db.GetContext(ctx, &cmd, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get command by id: %w", err)
	}

	return &cmd, nil
}

// SelectDeliverable picks the oldest-highest-priority commands addressed to
// the session or broadcast to all devices
func (r *commandRepository) SelectDeliverable(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.EngagementCommand, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM engagement_commands
		WHERE (session_id = $1 OR target_all = true)
		  AND status IN ('pending', 'sent')
		ORDER BY priority DESC, issued_at ASC
		LIMIT $2`

	var cmds []*domain.EngagementCommand
	err := r.db.SelectContext(ctx, &cmds, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select deliverable commands: %w", err)
	}

	return cmds, nil
}

// MarkSent transitions the pending subset of ids to sent in one conditional
// update. Rows already sent keep their original sent_at, so a racing second
// heartbeat cannot clobber the first delivery timestamp.
func (r *commandRepository) MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	query := `
		UPDATE engagement_commands
		SET status = 'sent',
			sent_at = $2
		WHERE id = ANY($1) AND status = 'pending'`

	_, err := r.db.ExecContext(ctx, query, pq.Array(strIDs), at)
	if err != nil {
		return fmt.Errorf("failed to mark commands sent: %w", err)
	}

	return nil
}

// RecentBySession lists a session's commands newest-first
func (r *commandRepository) RecentBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.EngagementCommand, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM engagement_commands
		WHERE session_id = $1 OR target_all = true
		ORDER BY issued_at DESC
		LIMIT $2`

	var cmds []*domain.EngagementCommand
	err := r.db.SelectContext(ctx, &cmds, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent commands: %w", err)
	}

	return cmds, nil
}

// UpdateStatus records a terminal transition made by the executor
func (r *commandRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CommandStatus) error {
	query := `
		UPDATE engagement_commands
		SET status = $2
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update command status: %w", err)
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
