// Package memory provides in-memory implementations of the repository
// interfaces. They back the test suites and local development without a
// database, and mirror the ordering and conditional-write semantics of the
// postgres implementations.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DevGruGold/suite-sub006/internal/domain"
	"github.com/DevGruGold/suite-sub006/internal/repository"
)

type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]*domain.Device
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{devices: make(map[string]*domain.Device)}
}

func (s *DeviceStore) Upsert(ctx context.Context, device *domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.devices[device.ID]
	if !ok {
		cp := *device
		s.devices[device.ID] = &cp
		return nil
	}

	existing.Fingerprint = device.Fingerprint
	if device.DeviceType != "" {
		existing.DeviceType = device.DeviceType
	}
	if device.OS != "" {
		existing.OS = device.OS
	}
	if device.Browser != "" {
		existing.Browser = device.Browser
	}
	for _, ip := range device.IPAddresses {
		if !containsString(existing.IPAddresses, ip) {
			existing.IPAddresses = append([]string{ip}, existing.IPAddresses...)
		}
	}
	if len(existing.IPAddresses) > 10 {
		existing.IPAddresses = existing.IPAddresses[:10]
	}
	existing.UpdatedAt = device.UpdatedAt
	return nil
}

func (s *DeviceStore) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *device
	return &cp, nil
}

func (s *DeviceStore) SetClaimCode(ctx context.Context, deviceID, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return repository.ErrNotFound
	}
	device.ClaimCode = &code
	device.ClaimCodeExpiresAt = &expiresAt
	device.UpdatedAt = time.Now()
	return nil
}

func (s *DeviceStore) FindUnclaimedByClaimCode(ctx context.Context, code string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, device := range s.devices {
		if device.ClaimedBy != nil || device.ClaimCode == nil {
			continue
		}
		if strings.EqualFold(*device.ClaimCode, code) {
			cp := *device
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *DeviceStore) Claim(ctx context.Context, deviceID string, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceID]
	if !ok || device.ClaimedBy != nil {
		return repository.ErrConflict
	}
	uid := userID
	device.ClaimedBy = &uid
	claimedAt := at
	device.ClaimedAt = &claimedAt
	device.ClaimCode = nil
	device.ClaimCodeExpiresAt = nil
	device.UpdatedAt = at
	return nil
}

func (s *DeviceStore) Unclaim(ctx context.Context, deviceID string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceID]
	if !ok || device.ClaimedBy == nil || *device.ClaimedBy != userID {
		return repository.ErrConflict
	}
	device.ClaimedBy = nil
	device.ClaimedAt = nil
	device.UpdatedAt = time.Now()
	return nil
}

func (s *DeviceStore) ListByClaimedBy(ctx context.Context, userID uuid.UUID) ([]*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var devices []*domain.Device
	for _, device := range s.devices {
		if device.ClaimedBy != nil && *device.ClaimedBy == userID {
			cp := *device
			devices = append(devices, &cp)
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].UpdatedAt.After(devices[j].UpdatedAt)
	})
	return devices, nil
}

func (s *DeviceStore) UpdateLocation(ctx context.Context, deviceID string, loc *domain.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return repository.ErrNotFound
	}
	device.LastKnownLocation = loc
	device.UpdatedAt = time.Now()
	return nil
}

type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.ConnectionSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uuid.UUID]*domain.ConnectionSession)}
}

func (s *SessionStore) Create(ctx context.Context, session *domain.ConnectionSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *SessionStore) FindByIDOrKey(ctx context.Context, ref string) (*domain.ConnectionSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, err := uuid.Parse(ref); err == nil && len(ref) == 36 {
		if session, ok := s.sessions[id]; ok && session.IsActive {
			cp := *session
			return &cp, nil
		}
	}

	var latest *domain.ConnectionSession
	for _, session := range s.sessions {
		if !session.IsActive || session.SessionKey != ref {
			continue
		}
		if latest == nil || session.ConnectedAt.After(latest.ConnectedAt) {
			latest = session
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *SessionStore) UpdateHeartbeat(ctx context.Context, id uuid.UUID, at time.Time, batteryLevel *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	session.LastHeartbeatAt = at
	session.IsActive = true
	if batteryLevel != nil {
		level := *batteryLevel
		session.BatteryLevelCurrent = &level
	}
	return nil
}

func (s *SessionStore) Close(ctx context.Context, id uuid.UUID, at time.Time, batteryLevelEnd *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	session.IsActive = false
	closedAt := at
	session.DisconnectedAt = &closedAt
	if batteryLevelEnd != nil {
		level := *batteryLevelEnd
		session.BatteryLevelEnd = &level
	}
	return nil
}

func (s *SessionStore) ListActiveSince(ctx context.Context, cutoff time.Time) ([]*domain.ConnectionSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*domain.ConnectionSession
	for _, session := range s.sessions {
		if session.IsActive && session.LastHeartbeatAt.After(cutoff) {
			cp := *session
			sessions = append(sessions, &cp)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastHeartbeatAt.After(sessions[j].LastHeartbeatAt)
	})
	return sessions, nil
}

func (s *SessionStore) LatestActiveByDevice(ctx context.Context, deviceID string) (*domain.ConnectionSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.ConnectionSession
	for _, session := range s.sessions {
		if !session.IsActive || session.DeviceID != deviceID {
			continue
		}
		if latest == nil || session.ConnectedAt.After(latest.ConnectedAt) {
			latest = session
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

type CommandStore struct {
	mu       sync.RWMutex
	commands map[uuid.UUID]*domain.EngagementCommand
}

func NewCommandStore() *CommandStore {
	return &CommandStore{commands: make(map[uuid.UUID]*domain.EngagementCommand)}
}

func (s *CommandStore) Create(ctx context.Context, cmd *domain.EngagementCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cmd
	s.commands[cmd.ID] = &cp
	return nil
}

func (s *CommandStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.EngagementCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cmd, ok := s.commands[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *cmd
	return &cp, nil
}

func (s *CommandStore) SelectDeliverable(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.EngagementCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cmds []*domain.EngagementCommand
	for _, cmd := range s.commands {
		if cmd.Status != domain.CommandStatusPending && cmd.Status != domain.CommandStatusSent {
			continue
		}
		if cmd.TargetAll || (cmd.SessionID != nil && *cmd.SessionID == sessionID) {
			cp := *cmd
			cmds = append(cmds, &cp)
		}
	}
	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Priority != cmds[j].Priority {
			return cmds[i].Priority > cmds[j].Priority
		}
		return cmds[i].IssuedAt.Before(cmds[j].IssuedAt)
	})
	if len(cmds) > limit {
		cmds = cmds[:limit]
	}
	return cmds, nil
}

func (s *CommandStore) MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		cmd, ok := s.commands[id]
		if !ok || cmd.Status != domain.CommandStatusPending {
			continue
		}
		cmd.Status = domain.CommandStatusSent
		sentAt := at
		cmd.SentAt = &sentAt
	}
	return nil
}

func (s *CommandStore) RecentBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.EngagementCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cmds []*domain.EngagementCommand
	for _, cmd := range s.commands {
		if cmd.TargetAll || (cmd.SessionID != nil && *cmd.SessionID == sessionID) {
			cp := *cmd
			cmds = append(cmds, &cp)
		}
	}
	sort.Slice(cmds, func(i, j int) bool {
		return cmds[i].IssuedAt.After(cmds[j].IssuedAt)
	})
	if len(cmds) > limit {
		cmds = cmds[:limit]
	}
	return cmds, nil
}

func (s *CommandStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CommandStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok {
		return repository.ErrNotFound
	}
	cmd.Status = status
	return nil
}

type ActivityStore struct {
	mu      sync.Mutex
	records []*domain.ActivityRecord
}

func NewActivityStore() *ActivityStore {
	return &ActivityStore{}
}

func (s *ActivityStore) Append(ctx context.Context, rec *domain.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

// Records returns a snapshot of appended records, oldest first
func (s *ActivityStore) Records() []*domain.ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.ActivityRecord, len(s.records))
	copy(out, s.records)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var (
	_ repository.DeviceRepository   = (*DeviceStore)(nil)
	_ repository.SessionRepository  = (*SessionStore)(nil)
	_ repository.CommandRepository  = (*CommandStore)(nil)
	_ repository.ActivityRepository = (*ActivityStore)(nil)
)
