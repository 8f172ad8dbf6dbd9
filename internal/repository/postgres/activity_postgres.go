package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/DevGruGold/suite-sub006/internal/domain"
	"github.com/DevGruGold/suite-sub006/internal/repository"
)

type activityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository creates a new PostgreSQL activity-log repository
func NewActivityRepository(db *sqlx.DB) repository.ActivityRepository {
	return &activityRepository{db: db}
}

// Append writes one activity-log record
func (r *activityRepository) Append(ctx context.Context, rec *domain.ActivityRecord) error {
	query := `
		INSERT INTO activity_log (
			id, device_id, session_id, action, detail, created_at
		) VALUES (
			:id, :device_id, :session_id, :action, :detail, :created_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		return fmt.Errorf("failed to append activity record: %w", err)
	}

	return nil
}
