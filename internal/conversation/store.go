package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store holds conversation histories keyed by user ID.
type Store interface {
	// GetOrCreate returns the user's history, creating it with the system
	// turn if absent.
	GetOrCreate(ctx context.Context, userID string) (History, error)

	// Append adds a user or assistant turn, creating the history first if
	// needed.
	Append(ctx context.Context, userID string, turn Turn) error

	// Get returns the history and whether it exists. It never creates one.
	Get(ctx context.Context, userID string) (History, bool, error)

	// Reset deletes the user's history. Resetting a missing history is not
	// an error.
	Reset(ctx context.Context, userID string) error

	Close() error
}

// NewStore builds the backend selected by cfg.Conversation.Backend.
func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	c := cfg.Conversation
	switch c.Backend {
	case "memory", "":
		return NewMemoryStore(MemoryConfig{
			SystemPrompt:    c.SystemPrompt,
			TTL:             c.TTL.Duration(),
			MaxSessions:     c.MaxSessions,
			CleanupInterval: c.CleanupInterval.Duration(),
		}, logger)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisStore(client, RedisConfig{
			SystemPrompt: c.SystemPrompt,
			TTL:          c.TTL.Duration(),
			KeyPrefix:    cfg.Redis.KeyPrefix,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown conversation backend %q", c.Backend)
	}
}
