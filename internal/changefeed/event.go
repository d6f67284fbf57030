// Package changefeed publishes record level change events from tables to
// a queue and drains them to a sink at a bounded rate.
package changefeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/schema"
)

// Op is the kind of change an event describes.
type Op string

const (
	// OpSet is published after a successful upsert.
	OpSet Op = "set"

	// OpRemove is published after a delete.
	OpRemove Op = "remove"
)

// Event is a single change to a table.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Table is the logical table name.
	Table string `json:"table"`

	// Op is the change kind.
	Op Op `json:"op"`

	// Key holds the composite key values for a set, or the conditions
	// used for a remove.
	Key map[string]any `json:"key"`

	// Record is the stored record for a set. It is nil for a remove.
	Record core.Record `json:"record,omitempty"`

	// Time is when the change was published.
	Time time.Time `json:"time"`
}

// NewEvent builds an event with a fresh ID and the current time.
func NewEvent(table string, op Op, key map[string]any, record core.Record) *Event {
	return &Event{
		ID:     uuid.NewString(),
		Table:  table,
		Op:     op,
		Key:    key,
		Record: record,
		Time:   time.Now().UTC(),
	}
}

// Validate checks that the event can be published.
func (e *Event) Validate() error {
	if e == nil {
		return ErrInvalidEvent
	}
	if e.Table == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidEvent)
	}
	if e.Op != OpSet && e.Op != OpRemove {
		return fmt.Errorf("%w: unknown op %q", ErrInvalidEvent, e.Op)
	}
	return nil
}

// Marshal encodes the event as JSON.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
	}
	return data, nil
}

// UnmarshalEvent decodes an event produced by Marshal. Numbers in Key and
// Record come back normalized to int64 or float64.
func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if e.Key != nil {
		e.Key = schema.NormalizeRecord(e.Key)
	}
	e.Record = schema.NormalizeRecord(e.Record)
	return &e, nil
}
