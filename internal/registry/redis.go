package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

const (
	// Key patterns for Redis storage
	agentKeyPrefix = "agent:"
	agentIndexKey  = "agents:all"
)

// RedisStore persists agents in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient creates a store from an existing Redis client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) agentKey(id string) string {
	return s.prefix + agentKeyPrefix + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + agentIndexKey
}

// SaveAgent writes the agent and adds it to the index.
func (s *RedisStore) SaveAgent(ctx context.Context, agent *types.RegisteredAgent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.agentKey(agent.ID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), agent.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

// DeleteAgent removes the agent and its index entry.
func (s *RedisStore) DeleteAgent(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.agentKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

// LoadAgents returns every indexed agent.
func (s *RedisStore) LoadAgents(ctx context.Context) ([]*types.RegisteredAgent, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list agent ids: %w", err)
	}

	agents := make([]*types.RegisteredAgent, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.agentKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Clean up stale index entry
				s.client.SRem(ctx, s.indexKey(), id)
				continue
			}
			return nil, fmt.Errorf("get agent %s: %w", id, err)
		}

		var agent types.RegisteredAgent
		if err := json.Unmarshal(data, &agent); err != nil {
			return nil, fmt.Errorf("unmarshal agent %s: %w", id, err)
		}
		agents = append(agents, &agent)
	}
	return agents, nil
}

// Close releases Redis connection resources.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
