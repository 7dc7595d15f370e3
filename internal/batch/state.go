package batch

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/pdf-batch/backend/internal/models"
)

// State is the local view of the current batch. Push events and poll
// results all go through Apply, which merges by id and is safe against
// duplicate and out-of-order delivery.
type State struct {
	mu           sync.RWMutex
	batchID      string
	batch        *models.Batch
	items        []models.WorkItem
	index        map[string]int
	processing   bool
	workerStatus models.WorkerStatus
	combined     *models.CombinedResult
	lastError    string

	listeners    map[int]func()
	nextListener int
}

// NewState returns an empty view.
func NewState() *State {
	return &State{
		index:        make(map[string]int),
		workerStatus: models.WorkerStatusUnknown,
		listeners:    make(map[int]func()),
	}
}

// Reset clears batch, items, combined result and error, and binds the view
// to batchID. Worker status survives.
func (s *State) Reset(batchID string) {
	s.mu.Lock()
	s.batchID = batchID
	s.batch = nil
	s.items = nil
	s.index = make(map[string]int)
	s.combined = nil
	s.lastError = ""
	s.mu.Unlock()
	s.notify()
}

// BatchID returns the batch the view is bound to.
func (s *State) BatchID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchID
}

// batchRecord is a possibly partial batch row.
type batchRecord struct {
	ID         *string             `json:"id"`
	Status     *models.BatchStatus `json:"status"`
	TotalCount *int                `json:"total_count"`
	DoneCount  *int                `json:"done_count"`
	ErrorCount *int                `json:"error_count"`
	CreatedAt  *time.Time          `json:"created_at"`
	UpdatedAt  *time.Time          `json:"updated_at"`
}

// itemRecord is a possibly partial work item row.
type itemRecord struct {
	ID           *string            `json:"id"`
	BatchID      *string            `json:"batch_id"`
	Position     *int               `json:"position"`
	FileName     *string            `json:"file_name"`
	StoredPath   *string            `json:"stored_path"`
	Label        *string            `json:"label"`
	Schema       json.RawMessage    `json:"schema"`
	Status       *models.ItemStatus `json:"status"`
	DurationMs   *int64             `json:"duration_ms"`
	ResultPath   *string            `json:"result_path"`
	ErrorMessage *string            `json:"error_message"`
	CreatedAt    *time.Time         `json:"created_at"`
}

// Apply merges one change event and reports whether the view changed.
// Malformed records and events for other batches are ignored.
func (s *State) Apply(ev models.Event) bool {
	var changed bool
	switch ev.Collection {
	case models.CollectionBatches:
		var rec batchRecord
		if err := json.Unmarshal(ev.Record, &rec); err != nil {
			return false
		}
		if rec.ID == nil && ev.RecordID != "" {
			id := ev.RecordID
			rec.ID = &id
		}
		s.mu.Lock()
		changed = s.mergeBatch(rec)
		s.mu.Unlock()
	case models.CollectionWorkItems:
		var rec itemRecord
		if err := json.Unmarshal(ev.Record, &rec); err != nil {
			return false
		}
		if rec.ID == nil && ev.RecordID != "" {
			id := ev.RecordID
			rec.ID = &id
		}
		if rec.BatchID == nil && ev.BatchID != "" {
			bid := ev.BatchID
			rec.BatchID = &bid
		}
		s.mu.Lock()
		changed = s.mergeItem(rec)
		s.mu.Unlock()
	default:
		return false
	}

	if changed {
		s.notify()
	}
	return changed
}

// ApplyBatch merges a full batch row.
func (s *State) ApplyBatch(b models.Batch) bool {
	return s.applyRecord(models.CollectionBatches, b.ID, b.ID, b)
}

// ApplyItem merges a full work item row.
func (s *State) ApplyItem(it models.WorkItem) bool {
	return s.applyRecord(models.CollectionWorkItems, it.ID, it.BatchID, it)
}

func (s *State) applyRecord(coll models.Collection, id, batchID string, rec any) bool {
	ev, err := models.NewEvent(coll, models.EventUpdate, id, batchID, rec)
	if err != nil {
		return false
	}
	return s.Apply(ev)
}

// mergeBatch overwrites present fields. Status never moves back along the
// lifecycle and counters never decrease. Caller holds the lock.
func (s *State) mergeBatch(rec batchRecord) bool {
	if rec.ID == nil || *rec.ID == "" || *rec.ID != s.batchID {
		return false
	}

	var next models.Batch
	if s.batch != nil {
		next = *s.batch
	} else {
		next = models.Batch{ID: *rec.ID}
	}

	if rec.Status != nil && rec.Status.IsValid() {
		cur := next.Status
		if cur == "" || rec.Status.Rank() > cur.Rank() {
			next.Status = *rec.Status
		}
	}
	if rec.TotalCount != nil {
		next.TotalCount = *rec.TotalCount
	}
	if rec.DoneCount != nil && *rec.DoneCount > next.DoneCount {
		next.DoneCount = *rec.DoneCount
	}
	if rec.ErrorCount != nil && *rec.ErrorCount > next.ErrorCount {
		next.ErrorCount = *rec.ErrorCount
	}
	if rec.CreatedAt != nil {
		next.CreatedAt = *rec.CreatedAt
	}
	if rec.UpdatedAt != nil && rec.UpdatedAt.After(next.UpdatedAt) {
		next.UpdatedAt = *rec.UpdatedAt
	}

	if s.batch != nil && reflect.DeepEqual(*s.batch, next) {
		return false
	}
	s.batch = &next
	return true
}

// mergeItem replaces an existing item in place or appends a new one. A
// record whose status ranks below the local one is stale and ignored.
// Caller holds the lock.
func (s *State) mergeItem(rec itemRecord) bool {
	if rec.ID == nil || *rec.ID == "" || s.batchID == "" {
		return false
	}
	if rec.BatchID == nil || *rec.BatchID != s.batchID {
		return false
	}

	idx, exists := s.index[*rec.ID]
	var next models.WorkItem
	if exists {
		next = s.items[idx]
		if rec.Status != nil && rec.Status.Rank() < next.Status.Rank() {
			return false
		}
	} else {
		next = models.WorkItem{ID: *rec.ID, BatchID: s.batchID}
	}

	if rec.Position != nil {
		next.Position = *rec.Position
	}
	if rec.FileName != nil {
		next.FileName = *rec.FileName
	}
	if rec.StoredPath != nil {
		next.StoredPath = *rec.StoredPath
	}
	if rec.Label != nil {
		next.Label = *rec.Label
	}
	if len(rec.Schema) > 0 && !bytes.Equal(rec.Schema, []byte("null")) {
		next.Schema = append(json.RawMessage(nil), rec.Schema...)
	}
	if rec.Status != nil {
		next.Status = *rec.Status
	}
	if rec.DurationMs != nil {
		d := *rec.DurationMs
		next.DurationMs = &d
	}
	if rec.ResultPath != nil {
		next.ResultPath = *rec.ResultPath
	}
	if rec.ErrorMessage != nil {
		next.ErrorMessage = *rec.ErrorMessage
	}
	if rec.CreatedAt != nil {
		next.CreatedAt = *rec.CreatedAt
	}

	if exists {
		if reflect.DeepEqual(s.items[idx], next) {
			return false
		}
		s.items[idx] = next
		return true
	}
	s.index[next.ID] = len(s.items)
	s.items = append(s.items, next)
	return true
}

// SetProcessing sets the processing flag.
func (s *State) SetProcessing(v bool) {
	s.mu.Lock()
	changed := s.processing != v
	s.processing = v
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Processing reports whether a batch is being started or watched.
func (s *State) Processing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processing
}

// SetWorkerStatus records the latest worker probe result.
func (s *State) SetWorkerStatus(st models.WorkerStatus) {
	s.mu.Lock()
	changed := s.workerStatus != st
	s.workerStatus = st
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// SetError records a user-visible start failure. An empty message clears it.
func (s *State) SetError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.notify()
}

// SetCombined stores the combined result when it belongs to the current batch.
func (s *State) SetCombined(batchID string, c *models.CombinedResult) bool {
	s.mu.Lock()
	if batchID != s.batchID {
		s.mu.Unlock()
		return false
	}
	s.combined = c
	s.mu.Unlock()
	s.notify()
	return true
}

// Combined returns the combined result, or nil when none exists.
func (s *State) Combined() *models.CombinedResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.combined
}

// Batch returns a copy of the current batch.
func (s *State) Batch() (models.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.batch == nil {
		return models.Batch{}, false
	}
	return *s.batch, true
}

// Items returns the items in order of first observation.
func (s *State) Items() []models.WorkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.WorkItem(nil), s.items...)
}

// ItemsBySubmission returns the items sorted by submission position.
func (s *State) ItemsBySubmission() []models.WorkItem {
	items := s.Items()
	sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items
}

// Snapshot returns a copy of the whole view.
func (s *State) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := models.Snapshot{
		Items:         append([]models.WorkItem{}, s.items...),
		Processing:    s.processing,
		WorkerStatus:  s.workerStatus,
		CombinedReady: s.combined != nil,
		LastError:     s.lastError,
	}
	if s.batch != nil {
		b := *s.batch
		snap.Batch = &b
		snap.Percent = b.Percent()
	}
	return snap
}

// OnChange registers fn to run after every change. fn runs on the goroutine
// that made the change and must not block. The returned func unregisters it.
func (s *State) OnChange(fn func()) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *State) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
