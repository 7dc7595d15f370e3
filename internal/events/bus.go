// Package events delivers record change notifications to subscribers.
package events

import (
	"context"
	"fmt"

	"github.com/pdf-batch/backend/internal/models"
)

// Filter fields.
const (
	FieldID      = "id"
	FieldBatchID = "batch_id"
)

// Filter selects events of one collection whose field equals Value.
type Filter struct {
	Collection models.Collection
	Field      string
	Value      string
}

// ByID selects events for one record of a collection.
func ByID(coll models.Collection, id string) Filter {
	return Filter{Collection: coll, Field: FieldID, Value: id}
}

// ByBatch selects events for every record of a collection within a batch.
func ByBatch(coll models.Collection, batchID string) Filter {
	return Filter{Collection: coll, Field: FieldBatchID, Value: batchID}
}

// Validate checks that the filter names a known field.
func (f Filter) Validate() error {
	if f.Collection == "" {
		return fmt.Errorf("filter collection is required")
	}
	if f.Field != FieldID && f.Field != FieldBatchID {
		return fmt.Errorf("unsupported filter field %q", f.Field)
	}
	return nil
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev models.Event) bool {
	if ev.Collection != f.Collection {
		return false
	}
	switch f.Field {
	case FieldID:
		return ev.RecordID == f.Value
	case FieldBatchID:
		return ev.BatchID == f.Value
	}
	return false
}

// Handler receives matching events. Handlers for one subscription are
// called sequentially.
type Handler func(models.Event)

// Subscription is a live registration. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Subscriber registers handlers. The subscription is active when Subscribe
// returns.
type Subscriber interface {
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
}

// Bus is both a Publisher and a Subscriber.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Group releases several subscriptions together.
type Group []Subscription

// Unsubscribe releases every subscription in the group.
func (g Group) Unsubscribe() {
	for _, s := range g {
		if s != nil {
			s.Unsubscribe()
		}
	}
}
