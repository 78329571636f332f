package flowstore

import (
	"context"
	"errors"
	"testing"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

func testWorkflow(id string) *types.Workflow {
	return &types.Workflow{
		ID:   id,
		Name: "Test " + id,
		Steps: []types.WorkflowStep{
			{ID: "a", Capability: "search", Inputs: map[string]any{"q": "${query}"}},
		},
	}
}

func TestMemoryStore_SaveGet(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	t.Run("round trips a copy", func(t *testing.T) {
		wf := testWorkflow("wf1")
		if err := store.Save(ctx, wf); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		wf.Steps[0].Capability = "mutated"

		got, err := store.Get(ctx, "wf1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Steps[0].Capability != "search" {
			t.Error("store should keep its own copy")
		}
	})

	t.Run("save overwrites", func(t *testing.T) {
		wf := testWorkflow("wf1")
		wf.Version = "2"
		if err := store.Save(ctx, wf); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		got, _ := store.Get(ctx, "wf1")
		if got.Version != "2" {
			t.Errorf("expected version 2, got %q", got.Version)
		}
	})

	t.Run("returns error for non-existent workflow", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, testWorkflow("wf1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "wf1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "wf1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := store.Save(ctx, testWorkflow(id)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 workflows, got %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID != want {
			t.Errorf("position %d: expected %q, got %q", i, want, list[i].ID)
		}
	}
}
