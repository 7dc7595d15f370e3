// mock_records.go - In-memory record store for testing
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pdf-batch/backend/internal/events"
	"github.com/pdf-batch/backend/internal/models"
	"github.com/pdf-batch/backend/internal/records"
)

// Record store operation names accepted by FailOn.
const (
	OpInsertBatch     = "InsertBatch"
	OpGetBatch        = "GetBatch"
	OpUpdateBatch     = "UpdateBatch"
	OpTransition      = "TransitionBatch"
	OpInsertWorkItems = "InsertWorkItems"
	OpUpdateWorkItem  = "UpdateWorkItem"
	OpListWorkItems   = "ListWorkItems"
)

// MockRecords implements records.Store in memory and publishes change
// events like the real store.
type MockRecords struct {
	mu      sync.RWMutex
	batches map[string]models.Batch
	items   map[string]models.WorkItem
	order   []string
	pub     events.Publisher
	fail    map[string]error
	calls   map[string]int
}

// NewMockRecords creates an empty store. pub may be nil.
func NewMockRecords(pub events.Publisher) *MockRecords {
	return &MockRecords{
		batches: make(map[string]models.Batch),
		items:   make(map[string]models.WorkItem),
		pub:     pub,
		fail:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// FailOn makes every call of op return err. A nil err clears the failure.
func (m *MockRecords) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Calls returns how often op was called.
func (m *MockRecords) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

func (m *MockRecords) enter(op string) error {
	m.calls[op]++
	return m.fail[op]
}

func (m *MockRecords) InsertBatch(ctx context.Context, b *models.Batch) error {
	m.mu.Lock()
	if err := m.enter(OpInsertBatch); err != nil {
		m.mu.Unlock()
		return err
	}
	if b.Status == "" {
		b.Status = models.BatchStatusCreated
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = b.CreatedAt
	m.batches[b.ID] = *b
	rec := *b
	m.mu.Unlock()

	m.publish(ctx, models.CollectionBatches, models.EventInsert, rec.ID, rec.ID, rec)
	return nil
}

func (m *MockRecords) GetBatch(_ context.Context, id string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetBatch); err != nil {
		return nil, err
	}
	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", records.ErrNotFound, id)
	}
	return &b, nil
}

func (m *MockRecords) UpdateBatch(ctx context.Context, id string, patch models.BatchPatch) (*models.Batch, error) {
	m.mu.Lock()
	if err := m.enter(OpUpdateBatch); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	b, ok := m.batches[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: batch %s", records.ErrNotFound, id)
	}
	if patch.Status != nil {
		b.Status = *patch.Status
	}
	if patch.TotalCount != nil {
		b.TotalCount = *patch.TotalCount
	}
	if patch.DoneCount != nil {
		b.DoneCount = *patch.DoneCount
	}
	if patch.ErrorCount != nil {
		b.ErrorCount = *patch.ErrorCount
	}
	b.UpdatedAt = time.Now().UTC()
	m.batches[id] = b
	m.mu.Unlock()

	m.publish(ctx, models.CollectionBatches, models.EventUpdate, id, id, b)
	return &b, nil
}

func (m *MockRecords) TransitionBatch(ctx context.Context, id string, from, to models.BatchStatus) (bool, error) {
	m.mu.Lock()
	if err := m.enter(OpTransition); err != nil {
		m.mu.Unlock()
		return false, err
	}
	b, ok := m.batches[id]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: batch %s", records.ErrNotFound, id)
	}
	if b.Status != from {
		m.mu.Unlock()
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	m.batches[id] = b
	m.mu.Unlock()

	m.publish(ctx, models.CollectionBatches, models.EventUpdate, id, id, b)
	return true, nil
}

func (m *MockRecords) InsertWorkItems(ctx context.Context, items []models.WorkItem) error {
	m.mu.Lock()
	if err := m.enter(OpInsertWorkItems); err != nil {
		m.mu.Unlock()
		return err
	}
	for _, it := range items {
		if _, dup := m.items[it.ID]; dup {
			m.mu.Unlock()
			return fmt.Errorf("duplicate work item %s", it.ID)
		}
	}
	for _, it := range items {
		m.items[it.ID] = it
		m.order = append(m.order, it.ID)
	}
	m.mu.Unlock()

	for _, it := range items {
		m.publish(ctx, models.CollectionWorkItems, models.EventInsert, it.ID, it.BatchID, it)
	}
	return nil
}

func (m *MockRecords) GetWorkItem(_ context.Context, id string) (*models.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: work item %s", records.ErrNotFound, id)
	}
	return &it, nil
}

func (m *MockRecords) UpdateWorkItem(ctx context.Context, id string, patch models.WorkItemPatch) (*models.WorkItem, error) {
	m.mu.Lock()
	if err := m.enter(OpUpdateWorkItem); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	it, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: work item %s", records.ErrNotFound, id)
	}
	if patch.Status != nil {
		it.Status = *patch.Status
	}
	if patch.DurationMs != nil {
		d := *patch.DurationMs
		it.DurationMs = &d
	}
	if patch.ResultPath != nil {
		it.ResultPath = *patch.ResultPath
	}
	if patch.ErrorMessage != nil {
		it.ErrorMessage = *patch.ErrorMessage
	}
	m.items[id] = it
	m.mu.Unlock()

	m.publish(ctx, models.CollectionWorkItems, models.EventUpdate, it.ID, it.BatchID, it)
	return &it, nil
}

func (m *MockRecords) ListWorkItems(_ context.Context, batchID string) ([]models.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListWorkItems); err != nil {
		return nil, err
	}
	var out []models.WorkItem
	for _, id := range m.order {
		if it := m.items[id]; it.BatchID == batchID {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *MockRecords) Close() error { return nil }

func (m *MockRecords) publish(ctx context.Context, coll models.Collection, typ models.EventType, recordID, batchID string, record any) {
	if m.pub == nil {
		return
	}
	ev, err := models.NewEvent(coll, typ, recordID, batchID, record)
	if err != nil {
		return
	}
	_ = m.pub.Publish(context.WithoutCancel(ctx), ev)
}

// Ensure MockRecords implements records.Store
var _ records.Store = (*MockRecords)(nil)

// Test Helper Methods

// BatchIDs returns every stored batch id in sorted order.
func (m *MockRecords) BatchIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.batches))
	for id := range m.batches {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
