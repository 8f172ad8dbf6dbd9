package handler

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/DevGruGold/suite-sub006/internal/domain"
	"github.com/DevGruGold/suite-sub006/internal/service"
	"github.com/DevGruGold/suite-sub006/pkg/validator"
)

// validActions lists every action the dispatch endpoint accepts, echoed back
// when a request names an unknown one.
var validActions = []string{
	"connect",
	"heartbeat",
	"disconnect",
	"status",
	"list_active",
	"generate_claim_code",
	"verify_claim_code",
	"auto_pair_by_ip",
	"list_user_devices",
	"unclaim_device",
}

// BrokerHandler is the single entry point for device connection and claim
// operations. Requests arrive as {action, ...payload} or
// {action, data: {...payload}}; both nestings are accepted.
type BrokerHandler struct {
	broker    *service.BrokerService
	claims    *service.ClaimService
	validator *validator.Validator
}

func NewBrokerHandler(broker *service.BrokerService, claims *service.ClaimService, validator *validator.Validator) *BrokerHandler {
	return &BrokerHandler{
		broker:    broker,
		claims:    claims,
		validator: validator,
	}
}

type actionEnvelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Dispatch routes an action request to the matching operation
// POST /api/v1/devices/connection
func (h *BrokerHandler) Dispatch(c *fiber.Ctx) error {
	body := c.Body()

	// An empty or near-empty body is a periodic external trigger with
	// nothing to report; answer immediately without error.
	if isEmptyBody(body) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"success": true,
			"message": "nothing to report",
		})
	}

	var envelope actionEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
			"hint":    "validation",
		})
	}

	if envelope.Action == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"success": true,
			"message": "nothing to report",
		})
	}

	// Payload may be nested under "data" or sit beside "action"; either way
	// "action" itself is not part of the payload.
	payload := body
	if len(envelope.Data) > 0 {
		payload = envelope.Data
	}

	switch envelope.Action {
	case "connect":
		return h.connect(c, payload)
	case "heartbeat":
		return h.heartbeat(c, payload)
	case "disconnect":
		return h.disconnect(c, payload)
	case "status":
		return h.status(c, payload)
	case "list_active":
		return h.listActive(c)
	case "generate_claim_code":
		return h.generateClaimCode(c, payload)
	case "verify_claim_code":
		return h.verifyClaimCode(c, payload)
	case "auto_pair_by_ip":
		return h.autoPairByIP(c, payload)
	case "list_user_devices":
		return h.listUserDevices(c, payload)
	case "unclaim_device":
		return h.unclaimDevice(c, payload)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":       false,
			"error":         "Unknown action: " + envelope.Action,
			"action":        envelope.Action,
			"hint":          "validation",
			"valid_actions": validActions,
		})
	}
}

type connectPayload struct {
	Fingerprint  string   `json:"fingerprint"`
	DeviceID     string   `json:"device_id"`
	DeviceIDAlt  string   `json:"deviceId"`
	DeviceType   string   `json:"device_type"`
	OS           string   `json:"os"`
	Browser      string   `json:"browser"`
	UserAgent    string   `json:"user_agent"`
	BatteryLevel *float64 `json:"battery_level"`
}

func (h *BrokerHandler) connect(c *fiber.Ctx, payload []byte) error {
	var req connectPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.failValidation(c, "connect", "Invalid request body")
	}

	fingerprint := firstNonEmpty(req.Fingerprint, req.DeviceID, req.DeviceIDAlt)
	if fingerprint == "" {
		return h.failValidation(c, "connect", "fingerprint is required")
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Get("User-Agent")
	}

	result, err := h.broker.Connect(c.Context(), service.ConnectRequest{
		Fingerprint:  fingerprint,
		DeviceType:   req.DeviceType,
		OS:           req.OS,
		Browser:      req.Browser,
		UserAgent:    userAgent,
		IPAddress:    clientIP(c),
		BatteryLevel: req.BatteryLevel,
	})
	if err != nil {
		return h.failService(c, "connect", err, fingerprint)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":      true,
		"session_id":   result.Session.ID,
		"session_key":  result.Session.SessionKey,
		"device_id":    result.DeviceID,
		"connected_at": result.Session.ConnectedAt,
		"location":     result.Location,
	})
}

type sessionRefPayload struct {
	SessionID        string   `json:"session_id"`
	SessionKey       string   `json:"session_key"`
	BatteryLevel     *float64 `json:"battery_level"`
	BatteryLevelEnd  *float64 `json:"battery_level_end"`
	CommandsReceived int      `json:"commands_received"`
}

func (p *sessionRefPayload) ref() string {
	return firstNonEmpty(p.SessionID, p.SessionKey)
}

func (h *BrokerHandler) heartbeat(c *fiber.Ctx, payload []byte) error {
	var req sessionRefPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.failValidation(c, "heartbeat", "Invalid request body")
	}

	ref := req.ref()
	if ref == "" {
		return h.failValidation(c, "heartbeat", "session_id or session_key is required")
	}

	result, err := h.broker.Heartbeat(c.Context(), ref, req.BatteryLevel)
	if err != nil {
		return h.failService(c, "heartbeat", err, ref)
	}

	// pending_commands is always an array, never null
	commands := result.Commands
	if commands == nil {
		commands = []*domain.EngagementCommand{}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":           true,
		"session_id":        result.Session.ID,
		"last_heartbeat_at": result.Session.LastHeartbeatAt,
		"liveness":          "active",
		"pending_commands":  commands,
	})
}

func (h *BrokerHandler) disconnect(c *fiber.Ctx, payload []byte) error {
	var req sessionRefPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.failValidation(c, "disconnect", "Invalid request body")
	}

	ref := req.ref()
	if ref == "" {
		return h.failValidation(c, "disconnect", "session_id or session_key is required")
	}

	session, err := h.broker.Disconnect(c.Context(), ref, req.BatteryLevelEnd)
	if err != nil {
		return h.failService(c, "disconnect", err, ref)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":          true,
		"session_id":       session.ID,
		"disconnected_at":  session.DisconnectedAt,
		"duration_seconds": session.DisconnectedAt.Sub(session.ConnectedAt).Seconds(),
	})
}

func (h *BrokerHandler) status(c *fiber.Ctx, payload []byte) error {
	var req sessionRefPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.failValidation(c, "status", "Invalid request body")
	}

	ref := req.ref()
	if ref == "" {
		return h.failValidation(c, "status", "session_id or session_key is required")
	}

	result, err := h.broker.Status(c.Context(), ref)
	if err != nil {
		return h.failService(c, "status", err, ref)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":         true,
		"session":         result.Session,
		"liveness":        result.Liveness,
		"recent_commands": result.Commands,
	})
}

func (h *BrokerHandler) listActive(c *fiber.Ctx) error {
	summary, err := h.broker.ListActive(c.Context())
	if err != nil {
		return h.failService(c, "list_active", err, "")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":              true,
		"active_count":         summary.ActiveCount,
		"stale_count":          summary.StaleCount,
		"avg_duration_seconds": summary.AvgDurationSeconds,
		"sessions":             summary.Sessions,
	})
}

type generateClaimCodePayload struct {
	DeviceID string `json:"device_id" validate:"required"`
}

func (h *BrokerHandler) generateClaimCode(c *fiber.Ctx, payload []byte) error {
	var req generateClaimCodePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.failValidation(c, "generate_claim_code", "Invalid request body")
	}
	if err := h.validator.Validate(req); err != nil {
		return h.failValidation(c, "generate_claim_code", err.Error())
	}

	result, err := h.claims.GenerateClaimCode(c.Context(), req.DeviceID)
	if err != nil {
		return h.failService(c, "generate_claim_code", err, req.DeviceID)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"device_id":  req.DeviceID,
		"claim_code": result.Code,
		"expires_at": result.ExpiresAt,
	})
}

type verifyClaimCodePayload struct {
	ClaimCode string `json:"claim_code" validate:"required"`
	UserID    string `json:"user_id" validate:"required,uuid"`
	DeviceID  string `json:"device_id" validate:"omitempty"`
}

func (h *BrokerHandler) verifyClaimCode(c *fiber.Ctx, payload []byte) error {
	var req verifyClaimCodePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.failValidation(c, "verify_claim_code", "Invalid request body")
	}
	if err := h.validator.Validate(req); err != nil {
		return h.failValidation(c, "verify_claim_code", err.Error())
	}

	userID := uuid.MustParse(req.UserID)
	device, err := h.claims.VerifyClaimCode(c.Context(), req.ClaimCode, req.DeviceID, userID)
	if err != nil {
		return h.failService(c, "verify_claim_code", err, req.ClaimCode)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"device_id":  device.ID,
		"claimed_by": device.ClaimedBy,
		"claimed_at": device.ClaimedAt,
	})
}

type autoPairPayload struct {
	DeviceID string `json:"device_id" validate:"required"`
	UserID   string `json:"user_id" validate:"required,uuid"`
	UserIP   string `json:"user_ip" validate:"required"`
}

func (h *BrokerHandler) autoPairByIP(c *fiber.Ctx, payload []byte) error {
	var req autoPairPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.failValidation(c, "auto_pair_by_ip", "Invalid request body")
	}
	if err := h.validator.Validate(req); err != nil {
		return h.failValidation(c, "auto_pair_by_ip", err.Error())
	}

	userID := uuid.MustParse(req.UserID)
	device, err := h.claims.AutoPairByIP(c.Context(), req.DeviceID, req.UserIP, userID)
	if err != nil {
		return h.failService(c, "auto_pair_by_ip", err, req.DeviceID)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"device_id":  device.ID,
		"claimed_by": device.ClaimedBy,
		"claimed_at": device.ClaimedAt,
		"method":     "ip_match",
	})
}

type userDevicesPayload struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

func (h *BrokerHandler) listUserDevices(c *fiber.Ctx, payload []byte) error {
	var req userDevicesPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.failValidation(c, "list_user_devices", "Invalid request body")
	}
	if err := h.validator.Validate(req); err != nil {
		return h.failValidation(c, "list_user_devices", err.Error())
	}

	userID := uuid.MustParse(req.UserID)
	result, err := h.claims.ListUserDevices(c.Context(), userID)
	if err != nil {
		return h.failService(c, "list_user_devices", err, req.UserID)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":      true,
		"devices":      result.Devices,
		"count":        len(result.Devices),
		"total_points": result.TotalPoints,
	})
}

type unclaimPayload struct {
	DeviceID string `json:"device_id" validate:"required"`
	UserID   string `json:"user_id" validate:"required,uuid"`
}

func (h *BrokerHandler) unclaimDevice(c *fiber.Ctx, payload []byte) error {
	var req unclaimPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.failValidation(c, "unclaim_device", "Invalid request body")
	}
	if err := h.validator.Validate(req); err != nil {
		return h.failValidation(c, "unclaim_device", err.Error())
	}

	userID := uuid.MustParse(req.UserID)
	if err := h.claims.UnclaimDevice(c.Context(), req.DeviceID, userID); err != nil {
		return h.failService(c, "unclaim_device", err, req.DeviceID)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": "Device unclaimed successfully",
	})
}

// failValidation reports a caller-correctable request problem
func (h *BrokerHandler) failValidation(c *fiber.Ctx, action, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   message,
		"action":  action,
		"hint":    "validation",
	})
}

// failService maps service errors to soft structured failures. Not-found and
// claim conflicts carry enough detail for a client to self-correct; anything
// unexpected is logged with context and surfaced generically.
func (h *BrokerHandler) failService(c *fiber.Ctx, action string, err error, providedID string) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrDeviceNotFound):
		resp := fiber.Map{
			"success": false,
			"error":   err.Error(),
			"action":  action,
			"hint":    "not_found",
		}
		if providedID != "" {
			resp["provided_id"] = providedID
		}
		return c.Status(fiber.StatusNotFound).JSON(resp)
	case errors.Is(err, service.ErrClaimCodeInvalid):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"action":  action,
			"hint":    "invalid_or_expired",
		})
	case errors.Is(err, service.ErrAlreadyClaimed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"action":  action,
			"hint":    "already_claimed",
		})
	case errors.Is(err, service.ErrNotOwner):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"action":  action,
			"hint":    "not_owner",
		})
	case errors.Is(err, service.ErrIPMismatch):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"action":  action,
			"hint":    "ip_mismatch",
		})
	default:
		log.Printf("[BROKER_HANDLER] Internal error on %s: %v", action, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success":   false,
			"error":     "internal error",
			"action":    action,
			"hint":      "internal",
			"timestamp": time.Now().UTC(),
		})
	}
}

// isEmptyBody treats missing, blank, or bare-object bodies as "nothing to
// report" triggers
func isEmptyBody(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	trimmed := make([]byte, 0, len(body))
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		trimmed = append(trimmed, b)
	}
	return len(trimmed) == 0 || string(trimmed) == "{}"
}
