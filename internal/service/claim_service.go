package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DevGruGold/suite-sub006/internal/config"
	"github.com/DevGruGold/suite-sub006/internal/domain"
	"github.com/DevGruGold/suite-sub006/internal/repository"
	"github.com/DevGruGold/suite-sub006/pkg/claimcode"
)

// ClaimService binds anonymous devices to user accounts: through a
// short-lived human-enterable code, or through the weaker IP-proximity
// shortcut. The code path is authoritative; auto-pair is advisory-only
// convenience whose security ceiling is "same local network".
type ClaimService struct {
	deviceRepo  repository.DeviceRepository
	sessionRepo repository.SessionRepository
	ledger      PointsLedger
	cfg         *config.Config
}

func NewClaimService(
	deviceRepo repository.DeviceRepository,
	sessionRepo repository.SessionRepository,
	ledger PointsLedger,
	cfg *config.Config,
) *ClaimService {
	return &ClaimService{
		deviceRepo:  deviceRepo,
		sessionRepo: sessionRepo,
		ledger:      ledger,
		cfg:         cfg,
	}
}

type ClaimCodeResult struct {
	Code      string    `json:"claim_code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GenerateClaimCode issues a fresh code for the device, overwriting any
// previous pending code. Expired codes are never purged eagerly; expiry is
// enforced at verification time.
func (s *ClaimService) GenerateClaimCode(ctx context.Context, deviceID string) (*ClaimCodeResult, error) {
	if _, err := s.deviceRepo.GetByID(ctx, deviceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	code, err := claimcode.Generate(s.cfg.Broker.ClaimCodeLength)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.cfg.Broker.ClaimCodeTTL)
	if err := s.deviceRepo.SetClaimCode(ctx, deviceID, code, expiresAt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	return &ClaimCodeResult{
		Code:      code,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyClaimCode consumes a claim code: the matching unclaimed device is
// bound to the user and the code is cleared (single-use). The expiry check
// is lazy; a stale row fails here without ever being swept.
func (s *ClaimService) VerifyClaimCode(ctx context.Context, code, deviceID string, userID uuid.UUID) (*domain.Device, error) {
	device, err := s.deviceRepo.FindUnclaimedByClaimCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrClaimCodeInvalid
		}
		return nil, err
	}

	if deviceID != "" && !strings.EqualFold(device.ID, deviceID) {
		return nil, ErrClaimCodeInvalid
	}

	if device.ClaimCodeExpiresAt == nil || time.Now().After(*device.ClaimCodeExpiresAt) {
		return nil, ErrClaimCodeInvalid
	}

	now := time.Now()
	if err := s.deviceRepo.Claim(ctx, device.ID, userID, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// someone else claimed it between lookup and write
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}

	device.ClaimedBy = &userID
	device.ClaimedAt = &now
	device.ClaimCode = nil
	device.ClaimCodeExpiresAt = nil

	log.Printf("[CLAIM_SERVICE] Device %s claimed by user %s via code", device.ID, userID)
	return device, nil
}

// AutoPairByIP claims an unclaimed device when the requester appears to be
// on the same network as the device's most recent active session: exact IP
// match, or matching first three dotted-decimal octets. This is a /24
// heuristic, not a CIDR-aware comparison, and it is deliberately weaker
// than the code path.
func (s *ClaimService) AutoPairByIP(ctx context.Context, deviceID, observerIP string, userID uuid.UUID) (*domain.Device, error) {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	if device.IsClaimed() {
		return nil, ErrAlreadyClaimed
	}

	session, err := s.sessionRepo.LatestActiveByDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if !sameSubnet(session.IPAddress, observerIP) {
		return nil, ErrIPMismatch
	}

	now := time.Now()
	if err := s.deviceRepo.Claim(ctx, deviceID, userID, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}

	device.ClaimedBy = &userID
	device.ClaimedAt = &now

	log.Printf("[CLAIM_SERVICE] Device %s auto-paired to user %s (observer %s)", deviceID, userID, observerIP)
	return device, nil
}

// UnclaimDevice releases ownership. Only the current owner may unclaim.
func (s *ClaimService) UnclaimDevice(ctx context.Context, deviceID string, userID uuid.UUID) error {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}

	if device.ClaimedBy == nil || *device.ClaimedBy != userID {
		return ErrNotOwner
	}

	if err := s.deviceRepo.Unclaim(ctx, deviceID, userID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrNotOwner
		}
		return err
	}

	return nil
}

type UserDevice struct {
	Device       *domain.Device        `json:"device"`
	Online       bool                  `json:"online"`
	Liveness     domain.LivenessStatus `json:"liveness"`
	RewardPoints int64                 `json:"reward_points"`
}

type UserDevicesResult struct {
	Devices     []*UserDevice `json:"devices"`
	TotalPoints int64         `json:"total_points"`
}

// ListUserDevices returns the user's claimed devices with an online flag
// derived from the latest session's liveness, plus accrued reward points.
func (s *ClaimService) ListUserDevices(ctx context.Context, userID uuid.UUID) (*UserDevicesResult, error) {
	devices, err := s.deviceRepo.ListByClaimedBy(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result := &UserDevicesResult{
		Devices: make([]*UserDevice, 0, len(devices)),
	}
	for _, device := range devices {
		entry := &UserDevice{
			Device:   device,
			Liveness: domain.LivenessDisconnected,
		}

		session, err := s.sessionRepo.LatestActiveByDevice(ctx, device.ID)
		if err == nil {
			entry.Liveness = ClassifyLiveness(session.IsActive, session.LastHeartbeatAt, now,
				s.cfg.Broker.ActiveWindow, s.cfg.Broker.StaleWindow)
			entry.Online = entry.Liveness == domain.LivenessActive
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}

		if s.ledger != nil {
			points, err := s.ledger.DevicePoints(ctx, userID.String(), device.ID)
			if err != nil {
				log.Printf("[CLAIM_SERVICE] Failed to read points for device %s: %v", device.ID, err)
			} else {
				entry.RewardPoints = points
			}
		}

		result.Devices = append(result.Devices, entry)
		result.TotalPoints += entry.RewardPoints
	}

	return result, nil
}

// sameSubnet matches exact IPs or a shared /24 for dotted-decimal IPv4.
// IPv6 (and anything unparseable) only matches exactly. Known to both
// false-positive behind shared NAT and false-negative behind carrier-grade
// NAT; auto-pair stays advisory for that reason.
func sameSubnet(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")
	if len(aParts) != 4 || len(bParts) != 4 {
		return false
	}
	return aParts[0] == bParts[0] && aParts[1] == bParts[1] && aParts[2] == bParts[2]
}
