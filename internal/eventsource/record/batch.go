package record

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
)

// Batch builds the records of one atomic append. Each added record is caused
// by the previous one; the first is caused by the parent, or roots a new chain
// when there is none.
type Batch struct {
	last    *Metadata
	records []eventlog.Proposed
}

// NewBatch starts a batch continuing from parent, which may be nil.
func NewBatch(parent *Metadata) *Batch {
	b := &Batch{}
	if parent != nil {
		p := *parent
		b.last = &p
	}
	return b
}

// Add encodes payload under name and appends it to the batch.
func (b *Batch) Add(name string, payload any, isEvent bool) (Metadata, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Metadata{}, fmt.Errorf("encode %s: %w", name, err)
	}

	id := uuid.New()
	var meta Metadata
	if b.last == nil {
		meta = Root(id, isEvent)
	} else {
		meta = b.last.Continue(id, isEvent)
	}
	metaData, err := meta.Marshal()
	if err != nil {
		return Metadata{}, fmt.Errorf("encode metadata for %s: %w", name, err)
	}

	b.records = append(b.records, eventlog.Proposed{ID: id, Name: name, Data: data, Metadata: metaData})
	b.last = &meta
	return meta, nil
}

// Records returns the proposed records in order.
func (b *Batch) Records() []eventlog.Proposed {
	return b.records
}

// Len reports the number of records added.
func (b *Batch) Len() int {
	return len(b.records)
}
