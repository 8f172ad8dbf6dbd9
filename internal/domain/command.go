package domain

import (
	"time"

	"github.com/google/uuid"
)

type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "pending"
	CommandStatusSent      CommandStatus = "sent"
	CommandStatusCompleted CommandStatus = "completed"
	CommandStatusFailed    CommandStatus = "failed"
)

// EngagementCommand is an instruction queued for one session or broadcast to
// all devices. Commands are created by external collaborators; the broker
// only transitions pending -> sent when a heartbeat picks the command up.
// Terminal transitions (completed/failed) belong to whoever executed it.
type EngagementCommand struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	SessionID   *uuid.UUID    `json:"session_id,omitempty" db:"session_id"`
	TargetAll   bool          `json:"target_all" db:"target_all"`
	CommandType string        `json:"command_type" db:"command_type"`
	Payload     JSONB         `json:"payload,omitempty" db:"payload"`
	Status      CommandStatus `json:"status" db:"status"`
	Priority    int           `json:"priority" db:"priority"`
	IssuedAt    time.Time     `json:"issued_at" db:"issued_at"`
	SentAt      *time.Time    `json:"sent_at,omitempty" db:"sent_at"`
}
