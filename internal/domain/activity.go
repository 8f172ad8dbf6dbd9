package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityRecord is an append-only audit entry for connect/disconnect events.
// Writes are fire-and-forget; a failed append never fails the operation that
// produced it.
type ActivityRecord struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	DeviceID  string     `json:"device_id" db:"device_id"`
	SessionID *uuid.UUID `json:"session_id,omitempty" db:"session_id"`
	Action    string     `json:"action" db:"action"`
	Detail    JSONB      `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
