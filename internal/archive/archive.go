// Package archive stores finished executions and their events as JSON
// documents in object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// ErrNotFound is returned when no archive exists at a path.
var ErrNotFound = errors.New("archive not found")

// ObjectRef is a reference to an archived object.
type ObjectRef struct {
	// URI is the full object path (e.g., "s3://bucket/path/to/object")
	URI string `json:"uri"`

	// ContentType is the MIME type
	ContentType string `json:"content_type,omitempty"`

	// Size in bytes
	Size int64 `json:"size,omitempty"`

	// Checksum (SHA256)
	Checksum string `json:"checksum,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Backend defines the storage backend interface.
type Backend interface {
	// Put stores data under path and returns its reference
	Put(ctx context.Context, path string, data io.Reader, contentType string) (*ObjectRef, error)

	// Get retrieves the object at path. Returns ErrNotFound if missing.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// List lists objects with a prefix
	List(ctx context.Context, prefix string) ([]*ObjectRef, error)

	// PresignGet generates a presigned URL for download
	PresignGet(ctx context.Context, path string, expiry time.Duration) (string, error)
}

// Record is the archived document.
type Record struct {
	Execution  *types.WorkflowExecution  `json:"execution"`
	Events     []types.ChoreographyEvent `json:"events"`
	ArchivedAt time.Time                 `json:"archived_at"`
}

// Service archives executions to a backend.
type Service struct {
	backend Backend
}

// Config holds archive configuration.
type Config struct {
	// Backend type: "memory", "s3", "minio"
	Type string

	// S3/MinIO configuration
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool

	// Path prefix for all archives
	PathPrefix string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type:       "memory",
		PathPrefix: "archive",
	}
}

// New creates an archive service.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var backend Backend
	switch cfg.Type {
	case "memory":
		backend = NewMemoryBackend()
	case "s3", "minio":
		s3Backend, err := NewS3Backend(cfg)
		if err != nil {
			return nil, fmt.Errorf("create s3 backend: %w", err)
		}
		backend = s3Backend
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}

	return NewService(backend), nil
}

// NewService creates a service over an existing backend.
func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

// Path returns the object path of an execution archive.
func Path(workflowID, executionID string) string {
	return fmt.Sprintf("executions/%s/%s.json", workflowID, executionID)
}

// Archive writes the execution and its events as one JSON document.
func (s *Service) Archive(ctx context.Context, exec *types.WorkflowExecution, events []types.ChoreographyEvent) error {
	rec := Record{Execution: exec, Events: events, ArchivedAt: time.Now().UTC()}
	if rec.Events == nil {
		rec.Events = []types.ChoreographyEvent{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	if _, err := s.backend.Put(ctx, Path(exec.WorkflowID, exec.ID), bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("store archive %s: %w", exec.ID, err)
	}
	return nil
}

// Load reads an archived execution.
func (s *Service) Load(ctx context.Context, workflowID, executionID string) (*Record, error) {
	body, err := s.backend.Get(ctx, Path(workflowID, executionID))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var rec Record
	if err := json.NewDecoder(body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	return &rec, nil
}

// List returns the archives of a workflow.
func (s *Service) List(ctx context.Context, workflowID string) ([]*ObjectRef, error) {
	return s.backend.List(ctx, fmt.Sprintf("executions/%s/", workflowID))
}

// DownloadURL generates a presigned download URL for an archive.
func (s *Service) DownloadURL(ctx context.Context, workflowID, executionID string, expiry time.Duration) (string, error) {
	return s.backend.PresignGet(ctx, Path(workflowID, executionID), expiry)
}
