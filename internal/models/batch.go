// Package models contains domain types for the PDF batch extractor.
package models

import "time"

// BatchStatus represents the lifecycle status of a batch.
type BatchStatus string

const (
	BatchStatusCreated BatchStatus = "created"
	BatchStatusRunning BatchStatus = "running"
	BatchStatusDone    BatchStatus = "done"
	BatchStatusError   BatchStatus = "error"
)

// Terminal reports whether no further transitions are expected.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusDone || s == BatchStatusError
}

// Rank orders statuses along the lifecycle. Unknown statuses rank lowest.
func (s BatchStatus) Rank() int {
	switch s {
	case BatchStatusCreated:
		return 1
	case BatchStatusRunning:
		return 2
	case BatchStatusDone, BatchStatusError:
		return 3
	}
	return 0
}

// IsValid reports whether s is a known status.
func (s BatchStatus) IsValid() bool {
	return s.Rank() > 0
}

// Batch is one user-submitted group of files processed together.
// DoneCount and ErrorCount are maintained by the remote worker.
type Batch struct {
	ID         string      `json:"id"`
	Status     BatchStatus `json:"status"`
	TotalCount int         `json:"total_count"`
	DoneCount  int         `json:"done_count"`
	ErrorCount int         `json:"error_count"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Percent returns completion as a whole percentage capped at 100.
func (b *Batch) Percent() int {
	if b == nil || b.TotalCount <= 0 {
		return 0
	}
	p := (b.DoneCount*100*2 + b.TotalCount) / (b.TotalCount * 2)
	if p > 100 {
		return 100
	}
	return p
}

// BatchPatch is a partial batch record. Nil fields are absent.
type BatchPatch struct {
	ID         string       `json:"id,omitempty"`
	Status     *BatchStatus `json:"status,omitempty"`
	TotalCount *int         `json:"total_count,omitempty"`
	DoneCount  *int         `json:"done_count,omitempty"`
	ErrorCount *int         `json:"error_count,omitempty"`
	CreatedAt  *time.Time   `json:"created_at,omitempty"`
	UpdatedAt  *time.Time   `json:"updated_at,omitempty"`
}

// Empty reports whether the patch carries no field besides ID.
func (p BatchPatch) Empty() bool {
	return p.Status == nil && p.TotalCount == nil && p.DoneCount == nil &&
		p.ErrorCount == nil && p.CreatedAt == nil && p.UpdatedAt == nil
}
