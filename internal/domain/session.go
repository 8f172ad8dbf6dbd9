package domain

import (
	"time"

	"github.com/google/uuid"
)

// LivenessStatus classifies a session purely from heartbeat recency.
// Staleness is computed at read time; it is never written back to the store.
type LivenessStatus string

const (
	LivenessActive       LivenessStatus = "active"
	LivenessStale        LivenessStatus = "stale"
	LivenessDisconnected LivenessStatus = "disconnected"
)

// ConnectionSession is one open-or-closed connection instance for a Device.
// A device may hold several concurrent sessions (reconnect without explicit
// disconnect); only active sessions with a recent heartbeat count as live.
type ConnectionSession struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	DeviceID            string     `json:"device_id" db:"device_id"`
	SessionKey          string     `json:"session_key" db:"session_key"`
	ConnectedAt         time.Time  `json:"connected_at" db:"connected_at"`
	DisconnectedAt      *time.Time `json:"disconnected_at,omitempty" db:"disconnected_at"`
	LastHeartbeatAt     time.Time  `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	IsActive            bool       `json:"is_active" db:"is_active"`
	BatteryLevelStart   *float64   `json:"battery_level_start,omitempty" db:"battery_level_start"`
	BatteryLevelCurrent *float64   `json:"battery_level_current,omitempty" db:"battery_level_current"`
	BatteryLevelEnd     *float64   `json:"battery_level_end,omitempty" db:"battery_level_end"`
	IPAddress           string     `json:"ip_address" db:"ip_address"`
	UserAgent           string     `json:"user_agent,omitempty" db:"user_agent"`
	LocationData        *Location  `json:"location_data,omitempty" db:"location_data"`
}
