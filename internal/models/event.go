package models

import (
	"encoding/json"
	"time"
)

// Collection names a record collection that emits change events.
type Collection string

const (
	CollectionBatches   Collection = "batches"
	CollectionWorkItems Collection = "work_items"
)

// EventType is the kind of record change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
)

// Event is a row-level change notification. Record holds the new row as
// JSON, which may be partial.
type Event struct {
	Collection Collection      `json:"collection"`
	Type       EventType       `json:"type"`
	RecordID   string          `json:"record_id"`
	BatchID    string          `json:"batch_id"`
	Record     json.RawMessage `json:"record"`
	At         time.Time       `json:"at"`
}

// NewEvent marshals record into an event.
func NewEvent(coll Collection, typ EventType, recordID, batchID string, record any) (Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Collection: coll,
		Type:       typ,
		RecordID:   recordID,
		BatchID:    batchID,
		Record:     raw,
		At:         time.Now().UTC(),
	}, nil
}
