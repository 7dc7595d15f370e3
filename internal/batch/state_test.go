package batch

import (
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/pdf-batch/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEvent(coll models.Collection, recordID, batchID, record string) models.Event {
	return models.Event{Collection: coll, Type: models.EventUpdate, RecordID: recordID, BatchID: batchID, Record: json.RawMessage(record)}
}

func TestStateBatchShallowMerge(t *testing.T) {
	s := NewState()
	s.Reset("b1")

	assert.True(t, s.Apply(rawEvent(models.CollectionBatches, "b1", "b1", `{"id":"b1","status":"created","total_count":3}`)))
	assert.True(t, s.Apply(rawEvent(models.CollectionBatches, "b1", "b1", `{"done_count":1}`)))

	b, ok := s.Batch()
	require.True(t, ok)
	assert.Equal(t, models.BatchStatusCreated, b.Status, "absent fields are preserved")
	assert.Equal(t, 3, b.TotalCount)
	assert.Equal(t, 1, b.DoneCount)
}

func TestStateBatchNeverRegresses(t *testing.T) {
	s := NewState()
	s.Reset("b1")

	s.Apply(rawEvent(models.CollectionBatches, "b1", "b1", `{"id":"b1","status":"running","total_count":2,"done_count":2}`))
	s.Apply(rawEvent(models.CollectionBatches, "b1", "b1", `{"id":"b1","status":"done"}`))

	assert.False(t, s.Apply(rawEvent(models.CollectionBatches, "b1", "b1", `{"id":"b1","status":"running","done_count":1}`)))
	assert.False(t, s.Apply(rawEvent(models.CollectionBatches, "b1", "b1", `{"id":"b1","status":"error"}`)))

	b, _ := s.Batch()
	assert.Equal(t, models.BatchStatusDone, b.Status)
	assert.Equal(t, 2, b.DoneCount)
	assert.Equal(t, 100, s.Snapshot().Percent)
}

func TestStateIgnoresOtherBatches(t *testing.T) {
	s := NewState()
	s.Reset("b1")

	assert.False(t, s.Apply(rawEvent(models.CollectionBatches, "b2", "b2", `{"id":"b2","status":"done"}`)))
	assert.False(t, s.Apply(rawEvent(models.CollectionWorkItems, "i1", "b2", `{"id":"i1","batch_id":"b2","status":"done"}`)))

	_, ok := s.Batch()
	assert.False(t, ok)
	assert.Empty(t, s.Items())
}

func TestStateIgnoresMalformedRecords(t *testing.T) {
	s := NewState()
	s.Reset("b1")
	assert.False(t, s.Apply(rawEvent(models.CollectionBatches, "b1", "b1", `not json`)))
	assert.False(t, s.Apply(rawEvent("other", "b1", "b1", `{}`)))
}

func TestStateItemsReplaceOrAppend(t *testing.T) {
	s := NewState()
	s.Reset("b1")

	s.Apply(rawEvent(models.CollectionWorkItems, "i2", "b1", `{"id":"i2","batch_id":"b1","position":1,"file_name":"b.pdf","status":"queued"}`))
	s.Apply(rawEvent(models.CollectionWorkItems, "i1", "b1", `{"id":"i1","batch_id":"b1","position":0,"file_name":"a.pdf","status":"queued"}`))
	s.Apply(rawEvent(models.CollectionWorkItems, "i2", "b1", `{"id":"i2","batch_id":"b1","status":"running"}`))

	items := s.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "i2", items[0].ID, "insertion order of first observation")
	assert.Equal(t, models.ItemStatusRunning, items[0].Status)
	assert.Equal(t, "b.pdf", items[0].FileName)
	assert.Equal(t, "i1", items[1].ID)

	sorted := s.ItemsBySubmission()
	assert.Equal(t, "i1", sorted[0].ID)
	assert.Equal(t, "i2", sorted[1].ID)
}

func TestStateItemIdempotent(t *testing.T) {
	s := NewState()
	s.Reset("b1")

	ev := rawEvent(models.CollectionWorkItems, "i1", "b1", `{"id":"i1","batch_id":"b1","file_name":"a.pdf","status":"done","duration_ms":120,"result_path":"b1/a.json","schema":{"z":1,"a":2}}`)
	assert.True(t, s.Apply(ev))
	once := s.Snapshot()

	assert.False(t, s.Apply(ev))
	assert.Equal(t, once, s.Snapshot())

	require.Len(t, once.Items, 1)
	require.NotNil(t, once.Items[0].DurationMs)
	assert.Equal(t, int64(120), *once.Items[0].DurationMs)
	assert.JSONEq(t, `{"z":1,"a":2}`, string(once.Items[0].Schema))
}

func TestStateItemStaleStatusIgnored(t *testing.T) {
	s := NewState()
	s.Reset("b1")

	s.Apply(rawEvent(models.CollectionWorkItems, "i1", "b1", `{"id":"i1","batch_id":"b1","status":"done","result_path":"r.json"}`))
	assert.False(t, s.Apply(rawEvent(models.CollectionWorkItems, "i1", "b1", `{"id":"i1","batch_id":"b1","status":"running","result_path":""}`)))

	items := s.Items()
	assert.Equal(t, models.ItemStatusDone, items[0].Status)
	assert.Equal(t, "r.json", items[0].ResultPath)
}

func TestStateOrderIndependentMerge(t *testing.T) {
	evs := []models.Event{
		rawEvent(models.CollectionWorkItems, "i1", "b1", `{"id":"i1","batch_id":"b1","status":"queued","file_name":"a.pdf"}`),
		rawEvent(models.CollectionWorkItems, "i1", "b1", `{"id":"i1","batch_id":"b1","status":"running","file_name":"a.pdf"}`),
		rawEvent(models.CollectionWorkItems, "i1", "b1", `{"id":"i1","batch_id":"b1","status":"done","file_name":"a.pdf","result_path":"x.json"}`),
		rawEvent(models.CollectionBatches, "b1", "b1", `{"id":"b1","status":"running","done_count":0}`),
		rawEvent(models.CollectionBatches, "b1", "b1", `{"id":"b1","status":"done","done_count":1}`),
	}

	forward := NewState()
	forward.Reset("b1")
	for _, ev := range evs {
		forward.Apply(ev)
	}

	backward := NewState()
	backward.Reset("b1")
	for i := len(evs) - 1; i >= 0; i-- {
		backward.Apply(evs[i])
	}

	assert.Equal(t, forward.Snapshot(), backward.Snapshot())
}

func TestStateResetAndListeners(t *testing.T) {
	s := NewState()
	var calls atomic.Int32
	unregister := s.OnChange(func() { calls.Add(1) })

	s.Reset("b1")
	s.Apply(rawEvent(models.CollectionBatches, "b1", "b1", `{"id":"b1","status":"running"}`))
	s.SetCombined("b1", &models.CombinedResult{BatchID: "b1"})
	s.SetCombined("other", &models.CombinedResult{BatchID: "other"})
	assert.NotNil(t, s.Combined())
	assert.Equal(t, "b1", s.Combined().BatchID)

	s.Reset("b2")
	assert.Nil(t, s.Combined())
	_, ok := s.Batch()
	assert.False(t, ok)
	assert.Equal(t, "b2", s.BatchID())

	before := calls.Load()
	assert.GreaterOrEqual(t, before, int32(4))
	unregister()
	s.SetProcessing(true)
	assert.Equal(t, before, calls.Load())
}

func TestStateSnapshotFlags(t *testing.T) {
	s := NewState()
	s.Reset("b1")
	assert.Equal(t, models.WorkerStatusUnknown, s.Snapshot().WorkerStatus)

	s.SetProcessing(true)
	s.SetWorkerStatus(models.WorkerStatusOK)
	s.SetError("boom")
	s.ApplyBatch(models.Batch{ID: "b1", Status: models.BatchStatusRunning, TotalCount: 3, DoneCount: 1})

	snap := s.Snapshot()
	assert.True(t, snap.Processing)
	assert.Equal(t, models.WorkerStatusOK, snap.WorkerStatus)
	assert.Equal(t, "boom", snap.LastError)
	assert.Equal(t, 33, snap.Percent)
	assert.False(t, snap.CombinedReady)
}
