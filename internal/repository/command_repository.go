package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/DevGruGold/suite-sub006/internal/domain"
)

type CommandRepository interface {
	// Create queues a command. Invoked by external collaborators and tests;
	// the broker itself never originates commands.
	Create(ctx context.Context, cmd *domain.EngagementCommand) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.EngagementCommand, error)

	// SelectDeliverable picks commands addressed to the session or broadcast
	// to all, still in pending/sent, ordered by priority descending then
	// issued_at ascending, capped at limit.
	SelectDeliverable(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.EngagementCommand, error)

	// MarkSent transitions the pending subset of ids to sent in a single
	// conditional update. Already-sent rows keep their original sent_at.
	MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// RecentBySession lists a session's commands newest-first, any status.
	RecentBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.EngagementCommand, error)

	// UpdateStatus records a terminal transition (completed/failed) made by
	// the collaborator that executed the command.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CommandStatus) error
}
