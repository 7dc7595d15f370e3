package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pdf-batch/backend/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) handle(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func event(coll models.Collection, recordID, batchID string) models.Event {
	return models.Event{Collection: coll, Type: models.EventUpdate, RecordID: recordID, BatchID: batchID}
}

func TestFilterMatches(t *testing.T) {
	byID := ByID(models.CollectionBatches, "b1")
	assert.True(t, byID.Matches(event(models.CollectionBatches, "b1", "b1")))
	assert.False(t, byID.Matches(event(models.CollectionBatches, "b2", "b2")))
	assert.False(t, byID.Matches(event(models.CollectionWorkItems, "b1", "b1")))

	byBatch := ByBatch(models.CollectionWorkItems, "b1")
	assert.True(t, byBatch.Matches(event(models.CollectionWorkItems, "i1", "b1")))
	assert.False(t, byBatch.Matches(event(models.CollectionWorkItems, "i1", "b2")))

	assert.Error(t, Filter{Collection: models.CollectionBatches, Field: "status"}.Validate())
	assert.Error(t, Filter{Field: FieldID}.Validate())
}

func TestHubDeliversMatchingEvents(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(0, zerolog.Nop())
	defer hub.Close()

	rec := &recorder{}
	sub, err := hub.Subscribe(ctx, ByBatch(models.CollectionWorkItems, "b1"), rec.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, hub.Publish(ctx, event(models.CollectionWorkItems, "i1", "b1")))
	require.NoError(t, hub.Publish(ctx, event(models.CollectionWorkItems, "i2", "other")))
	require.NoError(t, hub.Publish(ctx, event(models.CollectionBatches, "b1", "b1")))
	require.NoError(t, hub.Publish(ctx, event(models.CollectionWorkItems, "i3", "b1")))

	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, "i1", rec.events[0].RecordID)
	assert.Equal(t, "i3", rec.events[1].RecordID)
	rec.mu.Unlock()
}

func TestHubUnsubscribe(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(0, zerolog.Nop())
	defer hub.Close()

	rec := &recorder{}
	sub, err := hub.Subscribe(ctx, ByID(models.CollectionBatches, "b1"), rec.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Len())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, hub.Len())

	require.NoError(t, hub.Publish(ctx, event(models.CollectionBatches, "b1", "b1")))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.len())
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(1, zerolog.Nop())
	defer hub.Close()

	block := make(chan struct{})
	var calls int
	var mu sync.Mutex
	_, err := hub.Subscribe(ctx, ByID(models.CollectionBatches, "b1"), func(models.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-block
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, hub.Publish(ctx, event(models.CollectionBatches, "b1", "b1")))
	}
	close(block)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Less(t, calls, 10)
	mu.Unlock()
}

func TestHubClosed(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(0, zerolog.Nop())
	require.NoError(t, hub.Close())

	_, err := hub.Subscribe(ctx, ByID(models.CollectionBatches, "b1"), func(models.Event) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, hub.Publish(ctx, event(models.CollectionBatches, "b1", "b1")), ErrClosed)
}

func TestGroupUnsubscribe(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(0, zerolog.Nop())
	defer hub.Close()

	a, err := hub.Subscribe(ctx, ByID(models.CollectionBatches, "b1"), func(models.Event) {})
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, ByBatch(models.CollectionWorkItems, "b1"), func(models.Event) {})
	require.NoError(t, err)

	Group{a, nil, b}.Unsubscribe()
	assert.Equal(t, 0, hub.Len())
}
