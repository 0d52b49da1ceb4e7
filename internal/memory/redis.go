package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the redis connection of the recall store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	MaxTurns int
}

// RedisStore keeps each chat's turns in a redis list.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	maxTurns int64
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "dipagt:memory:"
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 200
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, maxTurns: int64(maxTurns)}, nil
}

func (s *RedisStore) key(chatID string) string {
	return s.prefix + chatID
}

// Append pushes a turn and trims the list to the newest maxTurns entries.
func (s *RedisStore) Append(ctx context.Context, chatID string, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}
	key := s.key(chatID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -s.maxTurns, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append failed: %w", err)
	}
	return nil
}

// Turns reads the chat's list, oldest first. Undecodable entries are skipped.
func (s *RedisStore) Turns(ctx context.Context, chatID string) ([]Turn, error) {
	values, err := s.client.LRange(ctx, s.key(chatID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read failed: %w", err)
	}
	turns := make([]Turn, 0, len(values))
	for _, v := range values {
		var t Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
