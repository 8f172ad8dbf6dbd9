package repository

import (
	"context"

	"github.com/DevGruGold/suite-sub006/internal/domain"
)

type ActivityRepository interface {
	// Append writes an activity-log record. Callers invoke it
	// fire-and-forget; a failure is logged, never propagated.
	Append(ctx context.Context, rec *domain.ActivityRecord) error
}
