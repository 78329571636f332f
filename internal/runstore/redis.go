package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/metrics"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// RedisStore implements Store backed by Redis. Each execution has a JSON
// snapshot key and a metadata hash; a sorted set indexes executions by
// creation time.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// Prefix for all keys (default: "executions")
	Prefix string

	// TTL for execution data (default: 7 days)
	TTL time.Duration

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "executions",
		TTL:          7 * 24 * time.Hour,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed Store.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "executions"
	}

	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// Key helpers
func (s *RedisStore) keySnapshot(id string) string { return fmt.Sprintf("%s:%s:snapshot", s.prefix, id) }
func (s *RedisStore) keyMeta(id string) string     { return fmt.Sprintf("%s:%s:meta", s.prefix, id) }
func (s *RedisStore) keyIndex() string             { return fmt.Sprintf("%s:index", s.prefix) }

func observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.StoreOperations.WithLabelValues("runstore", op, result).Inc()
}

// SaveExecution writes the snapshot, metadata and index entry.
func (s *RedisStore) SaveExecution(ctx context.Context, exec *types.WorkflowExecution) (err error) {
	defer func() { observe("save", err) }()

	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keySnapshot(exec.ID), data, s.ttl)
	pipe.HSet(ctx, s.keyMeta(exec.ID), map[string]interface{}{
		"workflow_id":    exec.WorkflowID,
		"correlation_id": exec.CorrelationID,
		"status":         string(exec.Status),
		"created_at":     exec.CreatedAt.Format(time.RFC3339Nano),
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.keyMeta(exec.ID), s.ttl)
	}
	pipe.ZAdd(ctx, s.keyIndex(), redis.Z{Score: float64(exec.CreatedAt.UnixNano()), Member: exec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// GetExecution returns the latest snapshot.
func (s *RedisStore) GetExecution(ctx context.Context, id string) (exec *types.WorkflowExecution, err error) {
	defer func() { observe("get", err) }()

	data, err := s.client.Get(ctx, s.keySnapshot(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}

	var out types.WorkflowExecution
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &out, nil
}

// ListExecutions returns matching snapshots ordered by creation time.
// Index entries whose snapshot has expired are pruned.
func (s *RedisStore) ListExecutions(ctx context.Context, filter types.ExecutionFilter) ([]*types.WorkflowExecution, error) {
	min, max := "-inf", "+inf"
	if !filter.Since.IsZero() {
		min = fmt.Sprintf("%d", filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		max = fmt.Sprintf("%d", filter.Until.UnixNano())
	}

	ids, err := s.client.ZRangeByScore(ctx, s.keyIndex(), &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, fmt.Errorf("list execution ids: %w", err)
	}

	out := make([]*types.WorkflowExecution, 0, len(ids))
	for _, id := range ids {
		exec, err := s.GetExecution(ctx, id)
		if errors.Is(err, ErrExecutionNotFound) {
			s.client.ZRem(ctx, s.keyIndex(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Match(exec) {
			out = append(out, exec)
		}
	}
	return applyLimit(out, filter.Limit), nil
}

// AdapterInfo returns diagnostic information.
func (s *RedisStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	n, err := s.client.ZCard(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}
	return map[string]interface{}{
		"adapter":    "redis",
		"prefix":     s.prefix,
		"ttl":        s.ttl.String(),
		"executions": n,
	}, nil
}

// Close releases Redis connection resources.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
