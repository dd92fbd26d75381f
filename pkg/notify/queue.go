// Package notify holds the client-side in-memory alert log: bounded,
// most-recent-first, independent of any room. Purely local state; marking
// read or clearing has no network effect.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultCapacity = 50

// Record is one inbound alert surfaced to the user.
type Record struct {
	ID        string
	Type      string
	Message   string
	Timestamp time.Time
	Read      bool
}

// Queue is a bounded, insertion-ordered notification log. Pushes arrive from
// the session's read loop while the UI reads, so access is serialized.
type Queue struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity}
}

// Push prepends a notification, evicting the oldest entries beyond capacity,
// and returns the stored record with its assigned id.
func (q *Queue) Push(kind, message string) Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec := Record{
		ID:        uuid.NewString(),
		Type:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
	q.records = append([]Record{rec}, q.records...)
	if len(q.records) > q.capacity {
		q.records = q.records[:q.capacity]
	}
	return rec
}

// MarkRead flags one notification as read. Unknown ids are ignored.
func (q *Queue) MarkRead(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.records {
		if q.records[i].ID == id {
			q.records[i].Read = true
			return
		}
	}
}

// MarkAllRead flags every notification as read.
func (q *Queue) MarkAllRead() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.records {
		q.records[i].Read = true
	}
}

// ClearAll discards every notification.
func (q *Queue) ClearAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = nil
}

// Unread counts the entries not yet marked read.
func (q *Queue) Unread() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := range q.records {
		if !q.records[i].Read {
			n++
		}
	}
	return n
}

// List returns a copy of the log, most recent first.
func (q *Queue) List() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Record, len(q.records))
	copy(out, q.records)
	return out
}

// Len reports the current number of entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
