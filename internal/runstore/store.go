// Package runstore persists workflow execution snapshots.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// ErrExecutionNotFound is returned when no snapshot exists for an ID.
var ErrExecutionNotFound = errors.New("execution not found in store")

// Store keeps the latest snapshot of each execution. Snapshots are written
// on every state transition; the in-process engine stays authoritative.
// Implementations must be safe for concurrent use.
type Store interface {
	SaveExecution(ctx context.Context, exec *types.WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*types.WorkflowExecution, error)

	// ListExecutions returns snapshots matching filter, oldest first.
	ListExecutions(ctx context.Context, filter types.ExecutionFilter) ([]*types.WorkflowExecution, error)

	// Diagnostics
	AdapterInfo(ctx context.Context) (map[string]interface{}, error)

	Close() error
}

// Config holds configuration for Store implementations.
type Config struct {
	// MaxExecutions bounds the memory store (oldest evicted first).
	MaxExecutions int

	// TTL for snapshots (0 = no expiry)
	TTL time.Duration
}

// DefaultConfig returns sensible defaults for Store configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxExecutions: 5000,
		TTL:           7 * 24 * time.Hour,
	}
}

func applyLimit(out []*types.WorkflowExecution, limit int) []*types.WorkflowExecution {
	if limit > 0 && len(out) > limit {
		return out[len(out)-limit:]
	}
	return out
}
