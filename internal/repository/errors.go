package repository

import "errors"

var (
	// ErrNotFound is returned when a device, session, or command reference
	// does not resolve.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a conditional write loses, e.g. claiming
	// a device that another user already claimed.
	ErrConflict = errors.New("conflicting update")
)
