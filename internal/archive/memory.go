package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryBackend provides an in-memory storage backend for testing.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]*memoryObject
}

type memoryObject struct {
	ref  *ObjectRef
	data []byte
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string]*memoryObject),
	}
}

func (m *MemoryBackend) Put(_ context.Context, path string, data io.Reader, contentType string) (*ObjectRef, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	ref := &ObjectRef{
		URI:         fmt.Sprintf("memory://%s", path),
		ContentType: contentType,
		Size:        int64(len(content)),
		CreatedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	m.objects[path] = &memoryObject{ref: ref, data: content}
	m.mu.Unlock()
	return ref, nil
}

func (m *MemoryBackend) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryBackend) List(_ context.Context, prefix string) ([]*ObjectRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var refs []*ObjectRef
	for path, obj := range m.objects {
		if strings.HasPrefix(path, prefix) {
			refs = append(refs, obj.ref)
		}
	}
	slices.SortFunc(refs, func(a, b *ObjectRef) int { return strings.Compare(a.URI, b.URI) })
	return refs, nil
}

func (m *MemoryBackend) PresignGet(context.Context, string, time.Duration) (string, error) {
	// Memory backend doesn't support presigned URLs
	return "", fmt.Errorf("presigned URLs not supported for memory backend")
}
