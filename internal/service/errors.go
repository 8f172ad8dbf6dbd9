package service

import "errors"

// Custom errors
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrClaimCodeInvalid = errors.New("claim code invalid or expired")
	ErrAlreadyClaimed   = errors.New("device is already claimed")
	ErrNotOwner         = errors.New("device is claimed by another user")
	ErrIPMismatch       = errors.New("device and requester are not on the same network")
)
