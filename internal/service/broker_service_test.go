package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevGruGold/suite-sub006/internal/config"
	"github.com/DevGruGold/suite-sub006/internal/domain"
	"github.com/DevGruGold/suite-sub006/internal/repository/memory"
	"github.com/DevGruGold/suite-sub006/pkg/identity"
)

func testConfig() *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{
			ActiveWindow:      5 * time.Minute,
			StaleWindow:       15 * time.Minute,
			ClaimCodeTTL:      10 * time.Minute,
			ClaimCodeLength:   6,
			CommandBatchLimit: 10,
			ConnectPoints:     10,
			HeartbeatPoints:   1,
		},
	}
}

type fakeLedger struct {
	mu     sync.Mutex
	points map[string]int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{points: make(map[string]int64)}
}

func (f *fakeLedger) AddPoints(ctx context.Context, userID, deviceID string, points int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[userID+"/"+deviceID] += points
	return nil
}

func (f *fakeLedger) DevicePoints(ctx context.Context, userID, deviceID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.points[userID+"/"+deviceID], nil
}

func (f *fakeLedger) TotalPoints(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for key, points := range f.points {
		if len(key) > len(userID) && key[:len(userID)+1] == userID+"/" {
			total += points
		}
	}
	return total, nil
}

type brokerFixture struct {
	broker   *BrokerService
	devices  *memory.DeviceStore
	sessions *memory.SessionStore
	commands *memory.CommandStore
	activity *memory.ActivityStore
	ledger   *fakeLedger
}

func newBrokerFixture() *brokerFixture {
	f := &brokerFixture{
		devices:  memory.NewDeviceStore(),
		sessions: memory.NewSessionStore(),
		commands: memory.NewCommandStore(),
		activity: memory.NewActivityStore(),
		ledger:   newFakeLedger(),
	}
	f.broker = NewBrokerService(f.devices, f.sessions, f.commands, f.activity, nil, f.ledger, testConfig())
	return f
}

func TestConnectCreatesSessionAndDevice(t *testing.T) {
	f := newBrokerFixture()
	ctx := context.Background()

	result, err := f.broker.Connect(ctx, ConnectRequest{
		Fingerprint: "fp-alpha",
		DeviceType:  "mobile",
		OS:          "Android",
		IPAddress:   "10.0.0.5",
		UserAgent:   "test-agent",
	})
	require.NoError(t, err)

	assert.Equal(t, identity.Resolve("fp-alpha"), result.DeviceID)
	assert.True(t, result.Session.IsActive)
	assert.NotEqual(t, result.Session.ID.String(), result.Session.SessionKey)
	assert.NotEmpty(t, result.Session.SessionKey)
	assert.Nil(t, result.Location, "no locator wired, location stays nil")

	device, err := f.devices.GetByID(ctx, result.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, "fp-alpha", device.Fingerprint)
	assert.Contains(t, []string(device.IPAddresses), "10.0.0.5")
}

func TestReconnectSameFingerprintReusesDevice(t *testing.T) {
	f := newBrokerFixture()
	ctx := context.Background()

	first, err := f.broker.Connect(ctx, ConnectRequest{Fingerprint: "fp-alpha", IPAddress: "10.0.0.5"})
	require.NoError(t, err)
	second, err := f.broker.Connect(ctx, ConnectRequest{Fingerprint: "fp-alpha", IPAddress: "10.0.0.9"})
	require.NoError(t, err)

	assert.Equal(t, first.DeviceID, second.DeviceID)
	assert.NotEqual(t, first.Session.ID, second.Session.ID, "each connect opens a fresh session")

	device, err := f.devices.GetByID(ctx, first.DeviceID)
	require.NoError(t, err)
	assert.Contains(t, []string(device.IPAddresses), "10.0.0.5")
	assert.Contains(t, []string(device.IPAddresses), "10.0.0.9")
}

func TestHeartbeatBySessionKey(t *testing.T) {
	f := newBrokerFixture()
	ctx := context.Background()

	connected, err := f.broker.Connect(ctx, ConnectRequest{Fingerprint: "fp-alpha"})
	require.NoError(t, err)

	battery := 87.5
	result, err := f.broker.Heartbeat(ctx, connected.Session.SessionKey, &battery)
	require.NoError(t, err)
	assert.Equal(t, connected.Session.ID, result.Session.ID)
	require.NotNil(t, result.Session.BatteryLevelCurrent)
	assert.Equal(t, 87.5, *result.Session.BatteryLevelCurrent)
	assert.Empty(t, result.Commands)
}

func TestHeartbeatRevivesStaleSession(t *testing.T) {
	f := newBrokerFixture()
	ctx := context.Background()

	session := &domain.ConnectionSession{
		ID:              uuid.New(),
		DeviceID:        identity.Resolve("fp-alpha"),
		SessionKey:      uuid.NewString(),
		ConnectedAt:     time.Now().Add(-30 * time.Minute),
		LastHeartbeatAt: time.Now().Add(-20 * time.Minute),
		IsActive:        true,
	}
	require.NoError(t, f.sessions.Create(ctx, session))

	status, err := f.broker.Status(ctx, session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.LivenessDisconnected, status.Liveness)

	_, err = f.broker.Heartbeat(ctx, session.ID.String(), nil)
	require.NoError(t, err)

	status, err = f.broker.Status(ctx, session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.LivenessActive, status.Liveness)
}

func TestHeartbeatUnknownSession(t *testing.T) {
	f := newBrokerFixture()

	_, err := f.broker.Heartbeat(context.Background(), uuid.NewString(), nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHeartbeatDrainsCommandsByPriority(t *testing.T) {
	f := newBrokerFixture()
	ctx := context.Background()

	connected, err := f.broker.Connect(ctx, ConnectRequest{Fingerprint: "fp-alpha"})
	require.NoError(t, err)
	sessionID := connected.Session.ID

	base := time.Now().Add(-time.Minute)
	for i, priority := range []int{1, 5, 3} {
		require.NoError(t, f.broker.QueueCommand(ctx, &domain.EngagementCommand{
			SessionID:   &sessionID,
			CommandType: fmt.Sprintf("cmd-%d", priority),
			Priority:    priority,
			IssuedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}

	result, err := f.broker.Heartbeat(ctx, sessionID.String(), nil)
	require.NoError(t, err)
	require.Len(t, result.Commands, 3)
	assert.Equal(t, "cmd-5", result.Commands[0].CommandType)
	assert.Equal(t, "cmd-3", result.Commands[1].CommandType)
	assert.Equal(t, "cmd-1", result.Commands[2].CommandType)
	for _, cmd := range result.Commands {
		assert.Equal(t, domain.CommandStatusSent, cmd.Status)
		assert.NotNil(t, cmd.SentAt)
	}

	// sent commands stay deliverable until acknowledged
	again, err := f.broker.Heartbeat(ctx, sessionID.String(), nil)
	require.NoError(t, err)
	assert.Len(t, again.Commands, 3)

	for _, cmd := range result.Commands {
		require.NoError(t, f.commands.UpdateStatus(ctx, cmd.ID, domain.CommandStatusCompleted))
	}
	final, err := f.broker.Heartbeat(ctx, sessionID.String(), nil)
	require.NoError(t, err)
	assert.Empty(t, final.Commands)
}

func TestHeartbeatDeliversBroadcastCommands(t *testing.T) {
	f := newBrokerFixture()
	ctx := context.Background()

	connected, err := f.broker.Connect(ctx, ConnectRequest{Fingerprint: "fp-alpha"})
	require.NoError(t, err)

	require.NoError(t, f.broker.QueueCommand(ctx, &domain.EngagementCommand{
		TargetAll:   true,
		CommandType: "refresh-config",
	}))

	result, err := f.broker.Heartbeat(ctx, connected.Session.SessionKey, nil)
	require.NoError(t, err)
	require.Len(t, result.Commands, 1)
	assert.Equal(t, "refresh-config", result.Commands[0].CommandType)
	assert.True(t, result.Commands[0].TargetAll)
}

type failingMarkSentStore struct {
	*memory.CommandStore
}

func (s *failingMarkSentStore) MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	return errors.New("write unavailable")
}

func TestHeartbeatDeliversEvenWhenMarkSentFails(t *testing.T) {
	commands := &failingMarkSentStore{CommandStore: memory.NewCommandStore()}
	devices := memory.NewDeviceStore()
	sessions := memory.NewSessionStore()
	broker := NewBrokerService(devices, sessions, commands, memory.NewActivityStore(), nil, nil, testConfig())
	ctx := context.Background()

	connected, err := broker.Connect(ctx, ConnectRequest{Fingerprint: "fp-alpha"})
	require.NoError(t, err)
	sessionID := connected.Session.ID

	require.NoError(t, broker.QueueCommand(ctx, &domain.EngagementCommand{
		SessionID:   &sessionID,
		CommandType: "ping",
	}))

	result, err := broker.Heartbeat(ctx, sessionID.String(), nil)
	require.NoError(t, err)
	require.Len(t, result.Commands, 1)
	// delivery happens anyway; status stays pending so a later drain retries
	assert.Equal(t, domain.CommandStatusPending, result.Commands[0].Status)
}

func TestDisconnectClosesSession(t *testing.T) {
	f := newBrokerFixture()
	ctx := context.Background()

	connected, err := f.broker.Connect(ctx, ConnectRequest{Fingerprint: "fp-alpha"})
	require.NoError(t, err)

	battery := 12.0
	closed, err := f.broker.Disconnect(ctx, connected.Session.SessionKey, &battery)
	require.NoError(t, err)
	assert.False(t, closed.IsActive)
	require.NotNil(t, closed.DisconnectedAt)
	require.NotNil(t, closed.BatteryLevelEnd)
	assert.Equal(t, 12.0, *closed.BatteryLevelEnd)

	_, err = f.broker.Heartbeat(ctx, connected.Session.SessionKey, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListActiveClassifiesByHeartbeatAge(t *testing.T) {
	f := newBrokerFixture()
	ctx := context.Background()
	now := time.Now()

	for i, age := range []time.Duration{time.Minute, 10 * time.Minute, 20 * time.Minute} {
		require.NoError(t, f.sessions.Create(ctx, &domain.ConnectionSession{
			ID:              uuid.New(),
			DeviceID:        identity.Resolve(fmt.Sprintf("fp-%d", i)),
			SessionKey:      uuid.NewString(),
			ConnectedAt:     now.Add(-age - time.Minute),
			LastHeartbeatAt: now.Add(-age),
			IsActive:        true,
		}))
	}

	summary, err := f.broker.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ActiveCount)
	assert.Equal(t, 1, summary.StaleCount)
	assert.Len(t, summary.Sessions, 2, "sessions past the stale window drop out")
	assert.Greater(t, summary.AvgDurationSeconds, 0.0)
}

func TestConnectAwardsPointsOnlyToClaimedDevices(t *testing.T) {
	f := newBrokerFixture()
	ctx := context.Background()

	owner := uuid.New()
	deviceID := identity.Resolve("fp-claimed")
	require.NoError(t, f.devices.Upsert(ctx, &domain.Device{
		ID:          deviceID,
		Fingerprint: "fp-claimed",
	}))
	require.NoError(t, f.devices.Claim(ctx, deviceID, owner, time.Now()))

	_, err := f.broker.Connect(ctx, ConnectRequest{Fingerprint: "fp-claimed"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		points, _ := f.ledger.DevicePoints(ctx, owner.String(), deviceID)
		return points == 10
	}, 2*time.Second, 10*time.Millisecond)

	// an unclaimed device accrues nothing
	_, err = f.broker.Connect(ctx, ConnectRequest{Fingerprint: "fp-anon"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	total, err := f.ledger.TotalPoints(ctx, owner.String())
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

func TestConnectRecordsActivity(t *testing.T) {
	f := newBrokerFixture()
	ctx := context.Background()

	connected, err := f.broker.Connect(ctx, ConnectRequest{Fingerprint: "fp-alpha", IPAddress: "10.0.0.5"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.activity.Records()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := f.activity.Records()[0]
	assert.Equal(t, "connect", rec.Action)
	assert.Equal(t, connected.DeviceID, rec.DeviceID)
	require.NotNil(t, rec.SessionID)
	assert.Equal(t, connected.Session.ID, *rec.SessionID)
}
