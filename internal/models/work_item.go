package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ItemStatus represents the processing status of one work item.
type ItemStatus string

const (
	ItemStatusQueued  ItemStatus = "queued"
	ItemStatusRunning ItemStatus = "running"
	ItemStatusDone    ItemStatus = "done"
	ItemStatusError   ItemStatus = "error"
)

// Rank orders statuses along the lifecycle. Unknown statuses rank lowest.
func (s ItemStatus) Rank() int {
	switch s {
	case ItemStatusQueued:
		return 1
	case ItemStatusRunning:
		return 2
	case ItemStatusDone, ItemStatusError:
		return 3
	}
	return 0
}

// IsValid reports whether s is a known status.
func (s ItemStatus) IsValid() bool {
	return s.Rank() > 0
}

// WorkItem is one file within a batch.
type WorkItem struct {
	ID           string          `json:"id"`
	BatchID      string          `json:"batch_id"`
	Position     int             `json:"position"`
	FileName     string          `json:"file_name"`
	StoredPath   string          `json:"stored_path"`
	Label        string          `json:"label"`
	Schema       json.RawMessage `json:"schema"`
	Status       ItemStatus      `json:"status"`
	DurationMs   *int64          `json:"duration_ms"`
	ResultPath   string          `json:"result_path"`
	ErrorMessage string          `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewWorkItem returns a queued item with a fresh id.
func NewWorkItem(batchID string, position int, fileName, storedPath, label string, schema json.RawMessage) WorkItem {
	if len(schema) == 0 {
		schema = json.RawMessage("{}")
	}
	return WorkItem{
		ID:         uuid.New().String(),
		BatchID:    batchID,
		Position:   position,
		FileName:   fileName,
		StoredPath: storedPath,
		Label:      label,
		Schema:     schema,
		Status:     ItemStatusQueued,
		CreatedAt:  time.Now().UTC(),
	}
}

// WorkItemPatch is a partial work item record written by the worker.
type WorkItemPatch struct {
	ID           string      `json:"id,omitempty"`
	BatchID      string      `json:"batch_id,omitempty"`
	Status       *ItemStatus `json:"status,omitempty"`
	DurationMs   *int64      `json:"duration_ms,omitempty"`
	ResultPath   *string     `json:"result_path,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p WorkItemPatch) Empty() bool {
	return p.Status == nil && p.DurationMs == nil && p.ResultPath == nil && p.ErrorMessage == nil
}
