package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Device represents one physical or logical client, independent of any
// particular connection. Devices are created on first connect and are never
// hard-deleted by the broker (retention belongs to a separate job).
type Device struct {
	ID                 string         `json:"id" db:"id"`
	Fingerprint        string         `json:"fingerprint" db:"fingerprint"`
	DeviceType         string         `json:"device_type,omitempty" db:"device_type"`
	OS                 string         `json:"os,omitempty" db:"os"`
	Browser            string         `json:"browser,omitempty" db:"browser"`
	LastKnownLocation  *Location      `json:"last_known_location,omitempty" db:"last_known_location"`
	IPAddresses        pq.StringArray `json:"ip_addresses,omitempty" db:"ip_addresses"`
	ClaimedBy          *uuid.UUID     `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt          *time.Time     `json:"claimed_at,omitempty" db:"claimed_at"`
	ClaimCode          *string        `json:"-" db:"claim_code"`
	ClaimCodeExpiresAt *time.Time     `json:"-" db:"claim_code_expires_at"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// IsClaimed reports whether the device is currently bound to a user
func (d *Device) IsClaimed() bool {
	return d.ClaimedBy != nil
}
