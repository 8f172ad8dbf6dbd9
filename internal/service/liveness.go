package service

import (
	"time"

	"github.com/DevGruGold/suite-sub006/internal/domain"
)

// ClassifyLiveness maps heartbeat age to a liveness status. Pure function:
// staleness is always computed at read time, never stored, so there is no
// background sweeper aging sessions out.
//
// A session explicitly closed (isActive=false) is disconnected regardless of
// heartbeat age. Otherwise a heartbeat within activeWindow is active, within
// staleWindow is stale (connection likely dead but not yet closed), and
// anything older is disconnected.
func ClassifyLiveness(isActive bool, lastHeartbeatAt, now time.Time, activeWindow, staleWindow time.Duration) domain.LivenessStatus {
	if !isActive {
		return domain.LivenessDisconnected
	}

	age := now.Sub(lastHeartbeatAt)
	switch {
	case age <= activeWindow:
		return domain.LivenessActive
	case age <= staleWindow:
		return domain.LivenessStale
	default:
		return domain.LivenessDisconnected
	}
}
