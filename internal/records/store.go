// Package records persists batches and work items and announces every
// change on an event bus.
package records

import (
	"context"
	"errors"

	"github.com/pdf-batch/backend/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the record store used by the batch controller and the
// worker-facing record API.
type Store interface {
	InsertBatch(ctx context.Context, b *models.Batch) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	UpdateBatch(ctx context.Context, id string, patch models.BatchPatch) (*models.Batch, error)
	// TransitionBatch sets status to `to` only if it currently equals `from`.
	TransitionBatch(ctx context.Context, id string, from, to models.BatchStatus) (bool, error)

	InsertWorkItems(ctx context.Context, items []models.WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error)
	UpdateWorkItem(ctx context.Context, id string, patch models.WorkItemPatch) (*models.WorkItem, error)
	// ListWorkItems returns a batch's items ordered by creation time.
	ListWorkItems(ctx context.Context, batchID string) ([]models.WorkItem, error)

	Close() error
}
