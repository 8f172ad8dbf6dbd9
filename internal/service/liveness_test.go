package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DevGruGold/suite-sub006/internal/domain"
)

func TestClassifyLiveness(t *testing.T) {
	now := time.Now()
	activeWindow := 5 * time.Minute
	staleWindow := 15 * time.Minute

	tests := []struct {
		name     string
		isActive bool
		age      time.Duration
		want     domain.LivenessStatus
	}{
		{"fresh heartbeat", true, 0, domain.LivenessActive},
		{"just inside active window", true, 4*time.Minute + 59*time.Second, domain.LivenessActive},
		{"just past active window", true, 5*time.Minute + 1*time.Second, domain.LivenessStale},
		{"deep in stale window", true, 14 * time.Minute, domain.LivenessStale},
		{"past stale window", true, 15*time.Minute + 1*time.Second, domain.LivenessDisconnected},
		{"explicitly closed", false, 0, domain.LivenessDisconnected},
		{"closed and old", false, 20 * time.Minute, domain.LivenessDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyLiveness(tt.isActive, now.Add(-tt.age), now, activeWindow, staleWindow)
			assert.Equal(t, tt.want, got)
		})
	}
}
