package flowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/metrics"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

const (
	workflowKeyPrefix = "workflow:"
	workflowListKey   = "workflows"
)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis at url and verifies the connection.
func NewRedisStore(url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStoreWithClient(client, prefix), nil
}

// NewRedisStoreWithClient creates a store using an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) workflowKey(id string) string {
	return s.prefix + workflowKeyPrefix + id
}

func (s *RedisStore) listKey() string {
	return s.prefix + workflowListKey
}

func observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.StoreOperations.WithLabelValues("flowstore", op, result).Inc()
}

// Save writes the workflow and adds it to the index.
func (s *RedisStore) Save(ctx context.Context, wf *types.Workflow) (err error) {
	defer func() { observe("save", err) }()

	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.workflowKey(wf.ID), data, 0)
	pipe.SAdd(ctx, s.listKey(), wf.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (wf *types.Workflow, err error) {
	defer func() { observe("get", err) }()

	data, err := s.client.Get(ctx, s.workflowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var out types.Workflow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &out, nil
}

// Delete removes a workflow.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, s.workflowKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.workflowKey(id))
	pipe.SRem(ctx, s.listKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

// List returns all stored workflows ordered by ID.
func (s *RedisStore) List(ctx context.Context) ([]*types.Workflow, error) {
	ids, err := s.client.SMembers(ctx, s.listKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list workflow ids: %w", err)
	}

	out := make([]*types.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Stale reference, clean up
			s.client.SRem(ctx, s.listKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	slices.SortFunc(out, func(a, b *types.Workflow) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Close releases Redis connection resources.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
