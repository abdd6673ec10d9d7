package cmd

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/recurrence"
)

// NewRecurrenceGate returns the Redis-backed gate when a Redis URL is
// configured and otherwise derives the gate from the run store.
func NewRecurrenceGate(redisURL string, p persistence.Persistence, logger *slog.Logger) recurrence.Gate {
	if redisURL == "" {
		return recurrence.NewStoreGate(p.Runs())
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to parse redis URL: %w", err))
	}

	logger.Info("Using Redis recurrence gate", "addr", opts.Addr)

	return recurrence.NewRedisGate(redis.NewClient(opts))
}
