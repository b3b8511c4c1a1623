package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	SystemPrompt string
	// TTL is refreshed on every access. Zero keeps histories forever.
	TTL time.Duration
	// KeyPrefix namespaces keys. Defaults to "ragd:conv:".
	KeyPrefix string
}

// RedisStore keeps each history as a Redis list of JSON turns. A companion
// marker key, created by the same script that pushes the system turn,
// ensures that turn is written once.
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger
}

// NewRedisStore wraps an existing client. Close closes the client.
func NewRedisStore(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ragd:conv:"
	}
	return &RedisStore{client: client, config: cfg, logger: logger}
}

func (s *RedisStore) listKey(userID string) string { return s.config.KeyPrefix + userID }
func (s *RedisStore) initKey(userID string) string { return s.config.KeyPrefix + userID + ":init" }

// createHistory writes the marker and the system turn in one step. The
// system turn goes to the head so a turn pushed by a racing writer can
// never precede it.
var createHistory = redis.NewScript(`
if redis.call('SETNX', KEYS[2], 1) == 0 then
  return 0
end
redis.call('LPUSH', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

// ensure creates the history if absent and refreshes expiry.
func (s *RedisStore) ensure(ctx context.Context, userID string) error {
	data, err := json.Marshal(Turn{Role: RoleSystem, Text: s.config.SystemPrompt})
	if err != nil {
		return fmt.Errorf("marshaling system turn: %w", err)
	}
	keys := []string{s.listKey(userID), s.initKey(userID)}
	created, err := createHistory.Run(ctx, s.client, keys, data, s.config.TTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("creating history: %w", err)
	}
	if created == 1 {
		sessionsCreated.Inc()
		return nil
	}
	return s.refresh(ctx, userID)
}

func (s *RedisStore) refresh(ctx context.Context, userID string) error {
	if s.config.TTL <= 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, s.listKey(userID), s.config.TTL)
		pipe.Expire(ctx, s.initKey(userID), s.config.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("refreshing expiry: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, userID string) (History, error) {
	raw, err := s.client.LRange(ctx, s.listKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	h := make(History, 0, len(raw))
	for i, r := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("decoding turn %d: %w", i, err)
		}
		h = append(h, t)
	}
	return h, nil
}

// GetOrCreate returns the history, creating it with the system turn if absent.
func (s *RedisStore) GetOrCreate(ctx context.Context, userID string) (History, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if err := s.ensure(ctx, userID); err != nil {
		return nil, err
	}
	return s.load(ctx, userID)
}

// Append pushes turn after creating the history if needed.
func (s *RedisStore) Append(ctx context.Context, userID string, turn Turn) error {
	if err := validateAppend(userID, turn); err != nil {
		return err
	}
	if err := s.ensure(ctx, userID); err != nil {
		return err
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshaling turn: %w", err)
	}
	if err := s.client.RPush(ctx, s.listKey(userID), data).Err(); err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// Get reads the history without creating it and refreshes its expiry.
func (s *RedisStore) Get(ctx context.Context, userID string) (History, bool, error) {
	if userID == "" {
		return nil, false, ErrInvalidUserID
	}
	h, err := s.load(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if len(h) == 0 {
		return nil, false, nil
	}
	if err := s.refresh(ctx, userID); err != nil {
		s.logger.Warn("failed to refresh conversation expiry", zap.String("user.id", userID), zap.Error(err))
	}
	return h, true, nil
}

// Reset deletes the history and its marker.
func (s *RedisStore) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	if err := s.client.Del(ctx, s.listKey(userID), s.initKey(userID)).Err(); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
