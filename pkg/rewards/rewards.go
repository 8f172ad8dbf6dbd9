// Package rewards tracks per-device engagement points for claimed devices
// in Redis.
package rewards

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Ledger accrues and reads reward points keyed by owner and device
type Ledger struct {
	redis *redis.Client
}

// NewLedger creates a new points ledger
func NewLedger(redisClient *redis.Client) *Ledger {
	return &Ledger{
		redis: redisClient,
	}
}

func (l *Ledger) userKey(userID string) string {
	return fmt.Sprintf("rewards:user:%s", userID)
}

// AddPoints accrues points for a device under its owning user
func (l *Ledger) AddPoints(ctx context.Context, userID, deviceID string, points int64) error {
	key := l.userKey(userID)

	err := l.redis.HIncrBy(ctx, key, deviceID, points).Err()
	if err != nil {
		return fmt.Errorf("failed to add reward points: %w", err)
	}

	return nil
}

// DevicePoints returns the points accrued by one device
func (l *Ledger) DevicePoints(ctx context.Context, userID, deviceID string) (int64, error) {
	key := l.userKey(userID)

	val, err := l.redis.HGet(ctx, key, deviceID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get device points: %w", err)
	}

	points, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse device points: %w", err)
	}

	return points, nil
}

// TotalPoints sums the points across all of a user's devices
func (l *Ledger) TotalPoints(ctx context.Context, userID string) (int64, error) {
	key := l.userKey(userID)

	fields, err := l.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get user points: %w", err)
	}

	var total int64
	for _, val := range fields {
		points, parseErr := strconv.ParseInt(val, 10, 64)
		if parseErr != nil {
			continue
		}
		total += points
	}

	return total, nil
}
