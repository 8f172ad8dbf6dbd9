package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/DevGruGold/suite-sub006/internal/config"
	"github.com/DevGruGold/suite-sub006/internal/domain"
	"github.com/DevGruGold/suite-sub006/internal/repository"
	"github.com/DevGruGold/suite-sub006/pkg/identity"
)

// GeoLocator resolves an approximate location for an IP address. Lookups are
// a non-fatal enrichment; callers swallow errors.
type GeoLocator interface {
	Lookup(ctx context.Context, ip string) (*domain.Location, error)
}

// PointsLedger accrues engagement points for claimed devices.
type PointsLedger interface {
	AddPoints(ctx context.Context, userID, deviceID string, points int64) error
	DevicePoints(ctx context.Context, userID, deviceID string) (int64, error)
	TotalPoints(ctx context.Context, userID string) (int64, error)
}

// sideEffectTimeout bounds fire-and-forget work (activity log, location
// persistence, points accrual) detached from the request context.
const sideEffectTimeout = 5 * time.Second

// BrokerService orchestrates device sessions: connect, heartbeat-driven
// command delivery, disconnect, and liveness summaries. It is stateless;
// every call goes to the shared stores, so many broker instances can run
// side by side.
type BrokerService struct {
	deviceRepo   repository.DeviceRepository
	sessionRepo  repository.SessionRepository
	commandRepo  repository.CommandRepository
	activityRepo repository.ActivityRepository
	geo          GeoLocator
	ledger       PointsLedger
	cfg          *config.Config
}

func NewBrokerService(
	deviceRepo repository.DeviceRepository,
	sessionRepo repository.SessionRepository,
	commandRepo repository.CommandRepository,
	activityRepo repository.ActivityRepository,
	geo GeoLocator,
	ledger PointsLedger,
	cfg *config.Config,
) *BrokerService {
	return &BrokerService{
		deviceRepo:   deviceRepo,
		sessionRepo:  sessionRepo,
		commandRepo:  commandRepo,
		activityRepo: activityRepo,
		geo:          geo,
		ledger:       ledger,
		cfg:          cfg,
	}
}

type ConnectRequest struct {
	Fingerprint  string
	DeviceType   string
	OS           string
	Browser      string
	UserAgent    string
	IPAddress    string
	BatteryLevel *float64
}

type ConnectResult struct {
	Session  *domain.ConnectionSession
	DeviceID string
	Location *domain.Location
}

// Connect registers (or refreshes) the device and always opens a fresh
// session with a newly minted bearer key. Existing open sessions for the
// same device are left alone; liveness sorts them out.
func (s *BrokerService) Connect(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	deviceID := identity.Resolve(req.Fingerprint)
	now := time.Now()

	location := s.lookupLocation(ctx, req.IPAddress)

	device := &domain.Device{
		ID:          deviceID,
		Fingerprint: req.Fingerprint,
		DeviceType:  req.DeviceType,
		OS:          req.OS,
		Browser:     req.Browser,
		IPAddresses: pq.StringArray{req.IPAddress},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if device.Fingerprint == "" {
		device.Fingerprint = deviceID
	}
	if err := s.deviceRepo.Upsert(ctx, device); err != nil {
		return nil, err
	}

	session := &domain.ConnectionSession{
		ID:                uuid.New(),
		DeviceID:          deviceID,
		SessionKey:        uuid.NewString(),
		ConnectedAt:       now,
		LastHeartbeatAt:   now,
		IsActive:          true,
		BatteryLevelStart: req.BatteryLevel,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		LocationData:      location,
	}
	if req.BatteryLevel != nil {
		level := *req.BatteryLevel
		session.BatteryLevelCurrent = &level
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	s.recordActivity(deviceID, &session.ID, "connect", map[string]interface{}{
		"ip_address": req.IPAddress,
		"user_agent": req.UserAgent,
	})
	s.persistLocation(deviceID, location)
	s.awardPoints(deviceID, s.cfg.Broker.ConnectPoints)

	return &ConnectResult{
		Session:  session,
		DeviceID: deviceID,
		Location: location,
	}, nil
}

type HeartbeatResult struct {
	Session  *domain.ConnectionSession
	Commands []*domain.EngagementCommand
}

// Heartbeat refreshes the session's liveness and opportunistically drains
// queued commands into the response. A heartbeat always revives the session,
// even one the classifier would call stale.
func (s *BrokerService) Heartbeat(ctx context.Context, sessionRef string, batteryLevel *float64) (*HeartbeatResult, error) {
	session, err := s.findSession(ctx, sessionRef)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.sessionRepo.UpdateHeartbeat(ctx, session.ID, now, batteryLevel); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	session.LastHeartbeatAt = now
	session.IsActive = true
	if batteryLevel != nil {
		level := *batteryLevel
		session.BatteryLevelCurrent = &level
	}

	commands := s.drainCommands(ctx, session.ID, now)

	s.awardPoints(session.DeviceID, s.cfg.Broker.HeartbeatPoints)

	return &HeartbeatResult{
		Session:  session,
		Commands: commands,
	}, nil
}

// Disconnect explicitly closes a session. An unresolvable reference is a
// soft failure so clients can distinguish "reconnect" from a hard error.
func (s *BrokerService) Disconnect(ctx context.Context, sessionRef string, batteryLevelEnd *float64) (*domain.ConnectionSession, error) {
	session, err := s.findSession(ctx, sessionRef)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.sessionRepo.Close(ctx, session.ID, now, batteryLevelEnd); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	session.IsActive = false
	session.DisconnectedAt = &now
	if batteryLevelEnd != nil {
		level := *batteryLevelEnd
		session.BatteryLevelEnd = &level
	}

	s.recordActivity(session.DeviceID, &session.ID, "disconnect", map[string]interface{}{
		"connected_at":    session.ConnectedAt,
		"disconnected_at": now,
	})

	return session, nil
}

type StatusResult struct {
	Session  *domain.ConnectionSession
	Liveness domain.LivenessStatus
	Commands []*domain.EngagementCommand
}

// Status reports a session together with its computed liveness and recent
// commands. Read-only: it never marks commands sent.
func (s *BrokerService) Status(ctx context.Context, sessionRef string) (*StatusResult, error) {
	session, err := s.findSession(ctx, sessionRef)
	if err != nil {
		return nil, err
	}

	commands, err := s.commandRepo.RecentBySession(ctx, session.ID, s.cfg.Broker.CommandBatchLimit)
	if err != nil {
		log.Printf("[BROKER_SERVICE] Failed to load recent commands for session %s: %v", session.ID, err)
		commands = nil
	}

	return &StatusResult{
		Session:  session,
		Liveness: s.classify(session, time.Now()),
		Commands: commands,
	}, nil
}

type SessionSummary struct {
	ID              uuid.UUID             `json:"id"`
	DeviceID        string                `json:"device_id"`
	Liveness        domain.LivenessStatus `json:"liveness"`
	ConnectedAt     time.Time             `json:"connected_at"`
	LastHeartbeatAt time.Time             `json:"last_heartbeat_at"`
	IPAddress       string                `json:"ip_address"`
}

type ActiveSummary struct {
	ActiveCount        int               `json:"active_count"`
	StaleCount         int               `json:"stale_count"`
	AvgDurationSeconds float64           `json:"avg_duration_seconds"`
	Sessions           []*SessionSummary `json:"sessions"`
}

// ListActive summarizes sessions inside the liveness windows. Sessions past
// the stale window simply drop out of the summary; no state is written.
// Average duration is an operational metric recomputed on demand.
func (s *BrokerService) ListActive(ctx context.Context) (*ActiveSummary, error) {
	now := time.Now()
	cutoff := now.Add(-s.cfg.Broker.StaleWindow)

	sessions, err := s.sessionRepo.ListActiveSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	summary := &ActiveSummary{
		Sessions: make([]*SessionSummary, 0, len(sessions)),
	}
	var totalActiveDuration time.Duration
	for _, session := range sessions {
		liveness := s.classify(session, now)
		if liveness == domain.LivenessDisconnected {
			continue
		}
		if liveness == domain.LivenessActive {
			summary.ActiveCount++
			totalActiveDuration += now.Sub(session.ConnectedAt)
		} else {
			summary.StaleCount++
		}
		summary.Sessions = append(summary.Sessions, &SessionSummary{
			ID:              session.ID,
			DeviceID:        session.DeviceID,
			Liveness:        liveness,
			ConnectedAt:     session.ConnectedAt,
			LastHeartbeatAt: session.LastHeartbeatAt,
			IPAddress:       session.IPAddress,
		})
	}
	if summary.ActiveCount > 0 {
		summary.AvgDurationSeconds = totalActiveDuration.Seconds() / float64(summary.ActiveCount)
	}

	return summary, nil
}

// QueueCommand stores a command on behalf of an external collaborator. The
// broker never originates commands itself; this is the ingestion surface
// collaborators and tests use.
func (s *BrokerService) QueueCommand(ctx context.Context, cmd *domain.EngagementCommand) error {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.Status == "" {
		cmd.Status = domain.CommandStatusPending
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}
	return s.commandRepo.Create(ctx, cmd)
}

func (s *BrokerService) findSession(ctx context.Context, ref string) (*domain.ConnectionSession, error) {
	session, err := s.sessionRepo.FindByIDOrKey(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *BrokerService) classify(session *domain.ConnectionSession, now time.Time) domain.LivenessStatus {
	return ClassifyLiveness(session.IsActive, session.LastHeartbeatAt, now,
		s.cfg.Broker.ActiveWindow, s.cfg.Broker.StaleWindow)
}

// drainCommands selects deliverable commands and marks the pending subset
// sent. The mark-sent write is best-effort: if it fails, the selected
// commands are still delivered (at-least-once, never zero-delivery), and a
// later heartbeat may deliver them again.
func (s *BrokerService) drainCommands(ctx context.Context, sessionID uuid.UUID, now time.Time) []*domain.EngagementCommand {
	commands, err := s.commandRepo.SelectDeliverable(ctx, sessionID, s.cfg.Broker.CommandBatchLimit)
	if err != nil {
		log.Printf("[BROKER_SERVICE] Failed to select commands for session %s: %v", sessionID, err)
		return nil
	}
	if len(commands) == 0 {
		return nil
	}

	var pendingIDs []uuid.UUID
	for _, cmd := range commands {
		if cmd.Status == domain.CommandStatusPending {
			pendingIDs = append(pendingIDs, cmd.ID)
		}
	}

	if len(pendingIDs) > 0 {
		if err := s.commandRepo.MarkSent(ctx, pendingIDs, now); err != nil {
			log.Printf("[BROKER_SERVICE] Failed to mark %d commands sent for session %s: %v",
				len(pendingIDs), sessionID, err)
		} else {
			for _, cmd := range commands {
				if cmd.Status == domain.CommandStatusPending {
					cmd.Status = domain.CommandStatusSent
					sentAt := now
					cmd.SentAt = &sentAt
				}
			}
		}
	}

	return commands
}

// lookupLocation is a best-effort enrichment: failures are swallowed and
// surface as a nil location. The client's own short timeout keeps a slow
// provider from stalling connect.
func (s *BrokerService) lookupLocation(ctx context.Context, ip string) *domain.Location {
	if s.geo == nil || ip == "" {
		return nil
	}
	location, err := s.geo.Lookup(ctx, ip)
	if err != nil {
		log.Printf("[BROKER_SERVICE] Geolocation lookup failed for %s: %v", ip, err)
		return nil
	}
	return location
}

// recordActivity appends an activity-log record without blocking the caller.
// Failures are warned, never raised.
func (s *BrokerService) recordActivity(deviceID string, sessionID *uuid.UUID, action string, detail map[string]interface{}) {
	if s.activityRepo == nil {
		return
	}
	rec := &domain.ActivityRecord{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		SessionID: sessionID,
		Action:    action,
		CreatedAt: time.Now(),
	}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			rec.Detail = b
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := s.activityRepo.Append(ctx, rec); err != nil {
			log.Printf("[ACTIVITY] Failed to append %s record for device %s: %v", action, deviceID, err)
		}
	}()
}

// persistLocation stores the snapshot on the device row, fire-and-forget
func (s *BrokerService) persistLocation(deviceID string, location *domain.Location) {
	if location == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := s.deviceRepo.UpdateLocation(ctx, deviceID, location); err != nil {
			log.Printf("[BROKER_SERVICE] Failed to persist location for device %s: %v", deviceID, err)
		}
	}()
}

// awardPoints accrues engagement points when the device has an owner,
// fire-and-forget
func (s *BrokerService) awardPoints(deviceID string, points int64) {
	if s.ledger == nil || points == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		device, err := s.deviceRepo.GetByID(ctx, deviceID)
		if err != nil || !device.IsClaimed() {
			return
		}
		if err := s.ledger.AddPoints(ctx, device.ClaimedBy.String(), deviceID, points); err != nil {
			log.Printf("[REWARDS] Failed to award %d points to device %s: %v", points, deviceID, err)
		}
	}()
}
