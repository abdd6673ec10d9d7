package recurrence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGate keeps one key per (automation, entity) that expires when the
// current cycle ends, so the next cycle starts with the gate open. Useful when
// runs are aggressively archived out of the run store, which would make the
// store-derived gate forget past firings.
type RedisGate struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisGate(client *redis.Client) *RedisGate {
	return &RedisGate{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func gateKey(automationID, entityID string) string {
	return fmt.Sprintf("journey:recurrence:%s:%s", automationID, entityID)
}

// gateTTL converts the cycle end into a key lifetime. The floor guards
// against clock skew between the gate and the scheduler producing keys that
// expire immediately.
func gateTTL(cycleEnd, now time.Time) time.Duration {
	ttl := cycleEnd.Sub(now)
	if ttl < time.Hour {
		ttl = time.Hour
	}

	return ttl
}

func (g *RedisGate) AlreadyFired(ctx context.Context, automationID, entityID string, _ time.Time) (bool, error) {
	count, err := g.client.Exists(ctx, gateKey(automationID, entityID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to query recurrence gate: %w", err)
	}

	return count > 0, nil
}

func (g *RedisGate) MarkFired(ctx context.Context, automationID, entityID string, cycleEnd time.Time) error {
	err := g.client.Set(ctx, gateKey(automationID, entityID), "1", gateTTL(cycleEnd, g.now())).Err()
	if err != nil {
		return fmt.Errorf("failed to mark recurrence gate: %w", err)
	}

	return nil
}
