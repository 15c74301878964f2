package jobs

import (
	"sync"
)

// EventBus keeps recent job changes and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Record
}

// Record is a sequenced Change.
type Record struct {
	Seq int64
	Change
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Record, 0, maxEvents),
	}
}

// Observe implements Observer.
func (b *EventBus) Observe(c Change) {
	b.Publish(c)
}

// Publish appends one change and assigns its sequence number.
func (b *EventBus) Publish(c Change) Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	rec := Record{Seq: b.nextSeq, Change: c}
	b.events = append(b.events, rec)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Record(nil), b.events[trim:]...)
	}
	return rec
}

// Since returns records with sequence strictly greater than seq. An empty
// jobID matches every job.
func (b *EventBus) Since(jobID string, seq int64) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}
	out := make([]Record, 0, len(b.events))
	for _, rec := range b.events {
		if rec.Seq > seq && (jobID == "" || rec.JobID == jobID) {
			out = append(out, rec)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest record.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
