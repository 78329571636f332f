// Package flowstore provides workflow definition persistence.
package flowstore

import (
	"context"
	"errors"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// ErrNotFound is returned when a workflow is not in the store.
var ErrNotFound = errors.New("workflow not found in store")

// Store persists workflow definitions. Validation happens before a
// workflow reaches the store; Save overwrites.
// Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, wf *types.Workflow) error

	// Get retrieves a workflow by ID. Returns ErrNotFound if not found.
	Get(ctx context.Context, id string) (*types.Workflow, error)

	Delete(ctx context.Context, id string) error

	// List returns every stored workflow ordered by ID.
	List(ctx context.Context) ([]*types.Workflow, error)

	Close() error
}
