package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevGruGold/suite-sub006/internal/config"
	"github.com/DevGruGold/suite-sub006/internal/domain"
	"github.com/DevGruGold/suite-sub006/internal/repository/memory"
	"github.com/DevGruGold/suite-sub006/internal/service"
	"github.com/DevGruGold/suite-sub006/pkg/validator"
)

type testApp struct {
	app    *fiber.App
	broker *service.BrokerService
}

func newTestApp() *testApp {
	cfg := &config.Config{
		Broker: config.BrokerConfig{
			ActiveWindow:      5 * time.Minute,
			StaleWindow:       15 * time.Minute,
			ClaimCodeTTL:      10 * time.Minute,
			ClaimCodeLength:   6,
			CommandBatchLimit: 10,
		},
	}

	devices := memory.NewDeviceStore()
	sessions := memory.NewSessionStore()
	commands := memory.NewCommandStore()
	activity := memory.NewActivityStore()

	broker := service.NewBrokerService(devices, sessions, commands, activity, nil, nil, cfg)
	claims := service.NewClaimService(devices, sessions, nil, cfg)

	app := fiber.New()
	SetupRoutes(app, NewBrokerHandler(broker, claims, validator.NewValidator()), NewHealthHandler())

	return &testApp{
		app:    app,
		broker: broker,
	}
}

func (ta *testApp) post(t *testing.T, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/connection", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ta.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

func TestDeviceLifecycle(t *testing.T) {
	ta := newTestApp()

	// connect; client IP comes from the first X-Forwarded-For entry
	status, body := ta.post(t, `{"action":"connect","fingerprint":"lifecycle-fp","device_type":"mobile"}`,
		map[string]string{"X-Forwarded-For": "10.0.0.5, 203.0.113.7"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	sessionID, _ := body["session_id"].(string)
	sessionKey, _ := body["session_key"].(string)
	deviceID, _ := body["device_id"].(string)
	require.NotEmpty(t, sessionID)
	require.NotEmpty(t, sessionKey)
	require.NotEmpty(t, deviceID)
	assert.NotEqual(t, sessionID, sessionKey)

	// first heartbeat: empty command array, never null
	status, body = ta.post(t, fmt.Sprintf(`{"action":"heartbeat","session_id":%q,"battery_level":91.5}`, sessionID), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	commands, ok := body["pending_commands"].([]interface{})
	require.True(t, ok, "pending_commands must be an array")
	assert.Empty(t, commands)

	// a collaborator queues a command for the session
	sid := uuid.MustParse(sessionID)
	require.NoError(t, ta.broker.QueueCommand(context.Background(), &domain.EngagementCommand{
		SessionID:   &sid,
		CommandType: "show-banner",
		Priority:    5,
	}))

	// next heartbeat delivers it, already marked sent
	status, body = ta.post(t, fmt.Sprintf(`{"action":"heartbeat","session_key":%q}`, sessionKey), nil)
	require.Equal(t, http.StatusOK, status)
	commands, _ = body["pending_commands"].([]interface{})
	require.Len(t, commands, 1)
	delivered := commands[0].(map[string]interface{})
	assert.Equal(t, "show-banner", delivered["command_type"])
	assert.Equal(t, "sent", delivered["status"])

	// status is read-only and reflects the sent command
	status, body = ta.post(t, fmt.Sprintf(`{"action":"status","session_id":%q}`, sessionID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", body["liveness"])
	recent, _ := body["recent_commands"].([]interface{})
	require.Len(t, recent, 1)

	// list_active sees the session
	status, body = ta.post(t, `{"action":"list_active"}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["active_count"])

	// disconnect closes the session
	status, body = ta.post(t, fmt.Sprintf(`{"action":"disconnect","session_id":%q,"battery_level_end":42}`, sessionID), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	assert.GreaterOrEqual(t, body["duration_seconds"].(float64), 0.0)

	// heartbeat after disconnect is a soft not-found
	status, body = ta.post(t, fmt.Sprintf(`{"action":"heartbeat","session_id":%q}`, sessionID), nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "not_found", body["hint"])
	assert.Equal(t, sessionID, body["provided_id"])
}

func TestDispatchEmptyBody(t *testing.T) {
	ta := newTestApp()

	for _, body := range []string{"", "   ", "{}", "\n{}\n"} {
		status, decoded := ta.post(t, body, nil)
		assert.Equal(t, http.StatusOK, status, "body %q", body)
		assert.Equal(t, true, decoded["success"])
		assert.Equal(t, "nothing to report", decoded["message"])
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	ta := newTestApp()

	status, body := ta.post(t, `{"action":"reboot"}`, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "reboot", body["action"])
	valid, _ := body["valid_actions"].([]interface{})
	assert.Len(t, valid, 10)
}

func TestDispatchMalformedJSON(t *testing.T) {
	ta := newTestApp()

	status, body := ta.post(t, `{"action":`, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["hint"])
}

func TestConnectRequiresFingerprint(t *testing.T) {
	ta := newTestApp()

	status, body := ta.post(t, `{"action":"connect","os":"Android"}`, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "validation", body["hint"])
}

func TestConnectAcceptsDataNesting(t *testing.T) {
	ta := newTestApp()

	status, body := ta.post(t, `{"action":"connect","data":{"deviceId":"nested-fp"}}`, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["device_id"])
}

func TestHeartbeatRequiresSessionRef(t *testing.T) {
	ta := newTestApp()

	status, body := ta.post(t, `{"action":"heartbeat","battery_level":50}`, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["hint"])
}

func TestClaimFlow(t *testing.T) {
	ta := newTestApp()

	// device comes online
	status, body := ta.post(t, `{"action":"connect","fingerprint":"claim-fp"}`,
		map[string]string{"X-Forwarded-For": "192.168.1.50"})
	require.Equal(t, http.StatusOK, status)
	deviceID := body["device_id"].(string)

	// issue a code for it
	status, body = ta.post(t, fmt.Sprintf(`{"action":"generate_claim_code","device_id":%q}`, deviceID), nil)
	require.Equal(t, http.StatusOK, status)
	code := body["claim_code"].(string)
	require.Len(t, code, 6)

	// bad user_id shape fails validation before any service call
	status, body = ta.post(t, fmt.Sprintf(`{"action":"verify_claim_code","claim_code":%q,"user_id":"not-a-uuid"}`, code), nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["hint"])

	// wrong code is invalid_or_expired
	userID := uuid.NewString()
	status, body = ta.post(t, fmt.Sprintf(`{"action":"verify_claim_code","claim_code":"ZZZZZZ","user_id":%q}`, userID), nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_or_expired", body["hint"])

	// the real code claims the device
	status, body = ta.post(t, fmt.Sprintf(`{"action":"verify_claim_code","claim_code":%q,"user_id":%q}`, code, userID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, deviceID, body["device_id"])
	assert.Equal(t, userID, body["claimed_by"])

	// the owner sees it in their device list
	status, body = ta.post(t, fmt.Sprintf(`{"action":"list_user_devices","user_id":%q}`, userID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])

	// a stranger cannot release it
	status, body = ta.post(t, fmt.Sprintf(`{"action":"unclaim_device","device_id":%q,"user_id":%q}`, deviceID, uuid.NewString()), nil)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_owner", body["hint"])

	// the owner can
	status, body = ta.post(t, fmt.Sprintf(`{"action":"unclaim_device","device_id":%q,"user_id":%q}`, deviceID, userID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
}

func TestAutoPairAction(t *testing.T) {
	ta := newTestApp()

	status, body := ta.post(t, `{"action":"connect","fingerprint":"pair-fp"}`,
		map[string]string{"X-Real-IP": "10.1.2.3"})
	require.Equal(t, http.StatusOK, status)
	deviceID := body["device_id"].(string)
	userID := uuid.NewString()

	// observer on another network is rejected
	status, body = ta.post(t, fmt.Sprintf(`{"action":"auto_pair_by_ip","device_id":%q,"user_id":%q,"user_ip":"10.9.9.9"}`, deviceID, userID), nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ip_mismatch", body["hint"])

	// same /24 pairs
	status, body = ta.post(t, fmt.Sprintf(`{"action":"auto_pair_by_ip","device_id":%q,"user_id":%q,"user_ip":"10.1.2.77"}`, deviceID, userID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ip_match", body["method"])
	assert.Equal(t, userID, body["claimed_by"])

	// second pairing attempt conflicts
	status, body = ta.post(t, fmt.Sprintf(`{"action":"auto_pair_by_ip","device_id":%q,"user_id":%q,"user_ip":"10.1.2.77"}`, deviceID, uuid.NewString()), nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_claimed", body["hint"])
}

func TestGenerateClaimCodeUnknownDevice(t *testing.T) {
	ta := newTestApp()

	status, body := ta.post(t, fmt.Sprintf(`{"action":"generate_claim_code","device_id":%q}`, uuid.NewString()), nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["hint"])
}

func TestHealthEndpoints(t *testing.T) {
	ta := newTestApp()

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := ta.app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}
