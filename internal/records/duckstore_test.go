// duckstore_test.go - Tests for the DuckDB record store
package records

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pdf-batch/backend/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) snapshot() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

func createTestStore(t *testing.T) (*DuckStore, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	store, err := NewDuckStore(filepath.Join(t.TempDir(), "records.duckdb"), pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create DuckStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, pub
}

func insertBatch(t *testing.T, store *DuckStore, total int) *models.Batch {
	t.Helper()
	b := &models.Batch{ID: uuid.NewString(), TotalCount: total}
	require.NoError(t, store.InsertBatch(context.Background(), b))
	return b
}

func TestNewDuckStore(t *testing.T) {
	t.Run("creates database file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "records.duckdb")
		store, err := NewDuckStore(path, nil, zerolog.Nop())
		require.NoError(t, err)
		defer store.Close()

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("in memory", func(t *testing.T) {
		store, err := NewDuckStore("", nil, zerolog.Nop())
		require.NoError(t, err)
		defer store.Close()

		assert.NoError(t, store.InsertBatch(context.Background(), &models.Batch{ID: "b1", TotalCount: 1}))
	})
}

func TestDuckStore_Batches(t *testing.T) {
	ctx := context.Background()
	store, pub := createTestStore(t)

	b := insertBatch(t, store, 3)
	assert.Equal(t, models.BatchStatusCreated, b.Status)

	got, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, models.BatchStatusCreated, got.Status)
	assert.Equal(t, 3, got.TotalCount)
	assert.Zero(t, got.DoneCount)

	done := 2
	updated, err := store.UpdateBatch(ctx, b.ID, models.BatchPatch{DoneCount: &done})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.DoneCount)
	assert.Equal(t, 3, updated.TotalCount)
	assert.Equal(t, models.BatchStatusCreated, updated.Status)

	evs := pub.snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, models.EventInsert, evs[0].Type)
	assert.Equal(t, models.CollectionBatches, evs[0].Collection)
	assert.Equal(t, models.EventUpdate, evs[1].Type)
	assert.Equal(t, b.ID, evs[1].BatchID)

	var rec models.Batch
	require.NoError(t, json.Unmarshal(evs[1].Record, &rec))
	assert.Equal(t, 2, rec.DoneCount)

	_, err = store.GetBatch(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.UpdateBatch(ctx, "missing", models.BatchPatch{DoneCount: &done})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDuckStore_TransitionBatch(t *testing.T) {
	ctx := context.Background()
	store, pub := createTestStore(t)
	b := insertBatch(t, store, 1)

	ok, err := store.TransitionBatch(ctx, b.ID, models.BatchStatusCreated, models.BatchStatusRunning)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TransitionBatch(ctx, b.ID, models.BatchStatusCreated, models.BatchStatusRunning)
	require.NoError(t, err)
	assert.False(t, ok, "second transition from created must not apply")

	got, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusRunning, got.Status)
	assert.Len(t, pub.snapshot(), 2)

	_, err = store.TransitionBatch(ctx, "missing", models.BatchStatusCreated, models.BatchStatusRunning)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuckStore_WorkItems(t *testing.T) {
	ctx := context.Background()
	store, pub := createTestStore(t)
	b := insertBatch(t, store, 3)

	items := []models.WorkItem{
		models.NewWorkItem(b.ID, 0, "c.pdf", b.ID+"/1-c.pdf", "x", json.RawMessage(`{"z":1,"a":2}`)),
		models.NewWorkItem(b.ID, 1, "a.pdf", b.ID+"/2-a.pdf", "", nil),
		models.NewWorkItem(b.ID, 2, "b.pdf", b.ID+"/3-b.pdf", "y", json.RawMessage(`{}`)),
	}
	other := models.NewWorkItem("other-batch", 0, "o.pdf", "other-batch/o.pdf", "", nil)
	require.NoError(t, store.InsertWorkItems(ctx, items))
	require.NoError(t, store.InsertWorkItems(ctx, []models.WorkItem{other}))

	list, err := store.ListWorkItems(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, name := range []string{"c.pdf", "a.pdf", "b.pdf"} {
		assert.Equal(t, name, list[i].FileName)
		assert.Equal(t, i, list[i].Position)
		assert.Equal(t, models.ItemStatusQueued, list[i].Status)
	}
	assert.Equal(t, `{"z":1,"a":2}`, string(list[0].Schema))
	assert.Equal(t, `{}`, string(list[1].Schema))
	assert.Nil(t, list[0].DurationMs)

	status := models.ItemStatusDone
	dur := int64(1234)
	resultPath := b.ID + "/c.json"
	it, err := store.UpdateWorkItem(ctx, items[0].ID, models.WorkItemPatch{Status: &status, DurationMs: &dur, ResultPath: &resultPath})
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusDone, it.Status)
	require.NotNil(t, it.DurationMs)
	assert.Equal(t, int64(1234), *it.DurationMs)
	assert.Equal(t, resultPath, it.ResultPath)
	assert.Equal(t, "x", it.Label)

	got, err := store.GetWorkItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, it.ResultPath, got.ResultPath)

	evs := pub.snapshot()
	last := evs[len(evs)-1]
	assert.Equal(t, models.CollectionWorkItems, last.Collection)
	assert.Equal(t, models.EventUpdate, last.Type)
	assert.Equal(t, b.ID, last.BatchID)
	assert.Equal(t, items[0].ID, last.RecordID)

	_, err = store.UpdateWorkItem(ctx, "missing", models.WorkItemPatch{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetWorkItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuckStore_InsertWorkItemsIsAtomic(t *testing.T) {
	ctx := context.Background()
	store, _ := createTestStore(t)
	b := insertBatch(t, store, 2)

	good := models.NewWorkItem(b.ID, 0, "a.pdf", "p/a.pdf", "", nil)
	bad := models.NewWorkItem(b.ID, 1, "b.pdf", "p/b.pdf", "", nil)
	bad.ID = good.ID

	assert.Error(t, store.InsertWorkItems(ctx, []models.WorkItem{good, bad}))

	list, err := store.ListWorkItems(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
