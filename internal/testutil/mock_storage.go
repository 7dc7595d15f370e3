// mock_storage.go - In-memory object store for testing
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pdf-batch/backend/internal/storage"
)

// MockObjectStore implements storage.ObjectStore in memory.
type MockObjectStore struct {
	mu       sync.RWMutex
	bucket   string
	baseURL  string
	objects  map[string][]byte
	info     map[string]*storage.ObjectInfo
	puts     []string
	failAt   int
	failWith error
}

// NewMockObjectStore creates a bucket with public URLs under baseURL.
func NewMockObjectStore(bucket, baseURL string) *MockObjectStore {
	return &MockObjectStore{
		bucket:  bucket,
		baseURL: baseURL,
		objects: make(map[string][]byte),
		info:    make(map[string]*storage.ObjectInfo),
	}
}

// FailOnPut makes the nth Put call (1-based) fail with err.
func (m *MockObjectStore) FailOnPut(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = n
	m.failWith = err
}

func (m *MockObjectStore) Bucket() string { return m.bucket }

func (m *MockObjectStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) (*storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := storage.CleanPath(objectPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts = append(m.puts, key)
	if m.failAt > 0 && len(m.puts) == m.failAt {
		if m.failWith == nil {
			return nil, errors.New("mock put failure")
		}
		return nil, m.failWith
	}

	info := &storage.ObjectInfo{
		Bucket:      m.bucket,
		Path:        key,
		Size:        int64(len(data)),
		ContentType: contentType,
		StoredAt:    time.Now(),
	}
	m.objects[key] = append([]byte(nil), data...)
	m.info[key] = info
	copied := *info
	return &copied, nil
}

func (m *MockObjectStore) Open(objectPath string) (io.ReadCloser, *storage.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectPath]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", storage.ErrNotFound, objectPath)
	}
	copied := *m.info[objectPath]
	return io.NopCloser(bytes.NewReader(data)), &copied, nil
}

func (m *MockObjectStore) Stat(objectPath string) (*storage.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.info[objectPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, objectPath)
	}
	copied := *info
	return &copied, nil
}

func (m *MockObjectStore) Delete(objectPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[objectPath]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, objectPath)
	}
	delete(m.objects, objectPath)
	delete(m.info, objectPath)
	return nil
}

func (m *MockObjectStore) PublicURL(objectPath string) (string, bool) {
	if m.baseURL == "" || objectPath == "" {
		return "", false
	}
	return m.baseURL + "/" + m.bucket + "/" + objectPath, true
}

// Ensure MockObjectStore implements storage.ObjectStore
var _ storage.ObjectStore = (*MockObjectStore)(nil)

// Test Helper Methods

// AddObject stores data directly.
func (m *MockObjectStore) AddObject(objectPath string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectPath] = data
	m.info[objectPath] = &storage.ObjectInfo{Bucket: m.bucket, Path: objectPath, Size: int64(len(data)), StoredAt: time.Now()}
}

// GetObjectData returns the stored bytes.
func (m *MockObjectStore) GetObjectData(objectPath string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectPath]
	return data, ok
}

// Paths returns the stored object paths in sorted order.
func (m *MockObjectStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// PutCalls returns the paths passed to Put in call order, including failed calls.
func (m *MockObjectStore) PutCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.puts...)
}

// GetFileCount returns the number of stored objects.
func (m *MockObjectStore) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
