package cache

import (
	"sync"
	"time"

	"mockpit/internal/models"
)

// Operation is one not-yet-confirmed local mutation.
type Operation struct {
	ID        string
	Kind      models.MutationKind
	Payload   *models.Mapping // nil for deletes
	Timestamp time.Time
}

// Age returns how long the operation has been outstanding.
func (op Operation) Age(now time.Time) time.Duration {
	return now.Sub(op.Timestamp)
}

// OpLog is the ordered queue of optimistic operations. Entries are appended
// in issue order and never deduplicated, so replaying the list in order lets
// later operations override earlier ones for the same identifier.
type OpLog struct {
	mu  sync.Mutex
	ops []Operation
	now func() time.Time
}

// NewOpLog returns an empty queue.
func NewOpLog() *OpLog {
	return &OpLog{now: time.Now}
}

// Enqueue appends a new operation.
func (l *OpLog) Enqueue(id string, kind models.MutationKind, payload *models.Mapping) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ops = append(l.ops, Operation{
		ID:        models.NormalizeID(id),
		Kind:      kind,
		Payload:   payload,
		Timestamp: l.now(),
	})
}

// Confirm removes every operation recorded for the identifier. Called when
// the remote response for a mutation has been observed, in either direction.
func (l *OpLog) Confirm(id string) int {
	return l.removeByID(id)
}

// Remove drops every operation for the identifier without confirmation
// semantics.
func (l *OpLog) Remove(id string) int {
	return l.removeByID(id)
}

func (l *OpLog) removeByID(id string) int {
	norm := models.NormalizeID(id)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.ops[:0]
	removed := 0
	for _, op := range l.ops {
		if op.ID == norm {
			removed++
			continue
		}
		kept = append(kept, op)
	}
	l.ops = kept
	return removed
}

// SweepExpired removes every operation older than ttl, confirmed or not, and
// reports how many were dropped. A non-zero result means local and remote
// state likely diverged silently and a rebuild is warranted.
func (l *OpLog) SweepExpired(ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.ops[:0]
	removed := 0
	for _, op := range l.ops {
		if op.Age(now) > ttl {
			removed++
			continue
		}
		kept = append(kept, op)
	}
	l.ops = kept
	return removed
}

// Clear drops every outstanding operation. Used when the whole collection
// is reset and pending mutations are moot.
func (l *OpLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = nil
}

// List returns a copy of the queue in issue order.
func (l *OpLog) List() []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Operation, len(l.ops))
	copy(out, l.ops)
	return out
}

// Len returns the number of outstanding operations.
func (l *OpLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// PendingDeletes returns the set of identifiers whose latest outstanding
// operation is a delete.
func (l *OpLog) PendingDeletes() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	latest := make(map[string]models.MutationKind, len(l.ops))
	for _, op := range l.ops {
		latest[op.ID] = op.Kind
	}
	out := make(map[string]bool)
	for id, kind := range latest {
		if kind == models.MutationDelete {
			out[id] = true
		}
	}
	return out
}
