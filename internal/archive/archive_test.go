package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

func TestArchiveRoundTrip(t *testing.T) {
	svc, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	exec := &types.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     types.ExecutionCompleted,
	}
	events := []types.ChoreographyEvent{
		{ID: "e1", Type: types.EventWorkflowStarted, CorrelationID: "exec-1"},
		{ID: "e2", Type: types.EventWorkflowCompleted, CorrelationID: "exec-1"},
	}

	if err := svc.Archive(ctx, exec, events); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	rec, err := svc.Load(ctx, "wf-1", "exec-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.Execution.ID != "exec-1" || rec.Execution.Status != types.ExecutionCompleted {
		t.Errorf("execution = %+v", rec.Execution)
	}
	if len(rec.Events) != 2 || rec.Events[1].ID != "e2" {
		t.Errorf("events = %+v", rec.Events)
	}
	if rec.ArchivedAt.IsZero() {
		t.Error("ArchivedAt not set")
	}
}

func TestLoadMissing(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	_, err := svc.Load(context.Background(), "wf", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestListByWorkflow(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	ctx := context.Background()

	for _, e := range []struct{ wf, id string }{{"a", "1"}, {"a", "2"}, {"ab", "3"}, {"b", "4"}} {
		if err := svc.Archive(ctx, &types.WorkflowExecution{ID: e.id, WorkflowID: e.wf}, nil); err != nil {
			t.Fatal(err)
		}
	}

	refs, err := svc.List(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("List(a) = %d refs, want 2", len(refs))
	}
	if refs[0].URI != "memory://executions/a/1.json" {
		t.Errorf("first URI = %s", refs[0].URI)
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, err := New(&Config{Type: "gcs"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestS3RequiresBucket(t *testing.T) {
	if _, err := NewS3Backend(&Config{Type: "s3"}); err == nil {
		t.Fatal("expected error without bucket")
	}
	if _, err := New(&Config{Type: "minio", Endpoint: "minio:9000"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestS3EndpointAndKeys(t *testing.T) {
	tests := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"", true, ""},
		{"minio:9000", false, "http://minio:9000"},
		{"minio:9000", true, "https://minio:9000"},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.endpoint, tt.ssl); got != tt.want {
			t.Errorf("endpointURL(%q, %v) = %q, want %q", tt.endpoint, tt.ssl, got, tt.want)
		}
	}

	b := &S3Backend{bucket: "runs", prefix: "archive"}
	key := b.objectKey(Path("wf", "e1"))
	if key != "archive/executions/wf/e1.json" {
		t.Fatalf("objectKey = %q", key)
	}
	if uri := b.objectURI(key); uri != "s3://runs/archive/executions/wf/e1.json" {
		t.Fatalf("objectURI = %q", uri)
	}
	if got := b.objectKey("executions/wf/"); got != "archive/executions/wf/" {
		t.Fatalf("list prefix = %q", got)
	}
	bare := &S3Backend{bucket: "runs"}
	if got := bare.objectKey("executions/wf/"); got != "executions/wf/" {
		t.Fatalf("objectKey without prefix = %q", got)
	}
}

func TestMemoryPresignUnsupported(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	if _, err := svc.DownloadURL(context.Background(), "wf", "x", time.Minute); err == nil {
		t.Fatal("expected error")
	}
}
