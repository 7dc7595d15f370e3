// mock_remote.go - Fakes for the worker client and result fetcher
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/pdf-batch/backend/internal/models"
)

// MockWorker records Notify calls and answers Health with a fixed status.
type MockWorker struct {
	mu        sync.Mutex
	notified  []string
	NotifyErr error
	Status    models.WorkerStatus
	// OnNotify runs after a notification is recorded, outside the lock.
	OnNotify func(batchID string)
}

// NewMockWorker creates a healthy worker.
func NewMockWorker() *MockWorker {
	return &MockWorker{Status: models.WorkerStatusOK}
}

func (w *MockWorker) Notify(_ context.Context, batchID string) error {
	w.mu.Lock()
	w.notified = append(w.notified, batchID)
	err := w.NotifyErr
	hook := w.OnNotify
	w.mu.Unlock()

	if hook != nil {
		hook(batchID)
	}
	return err
}

func (w *MockWorker) Health(context.Context) models.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Status
}

// Notified returns the batch ids notified so far.
func (w *MockWorker) Notified() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.notified...)
}

// MockFetcher serves canned bodies by URL.
type MockFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	calls  []string
}

// NewMockFetcher creates a fetcher with no URLs.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{bodies: make(map[string][]byte), errs: make(map[string]error)}
}

// Set registers a body for url.
func (f *MockFetcher) Set(url string, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = []byte(body)
}

// SetError makes url fail.
func (f *MockFetcher) SetError(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *MockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("mock fetch: not found")
	}
	return body, nil
}

// Calls returns the fetched URLs in call order.
func (f *MockFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
