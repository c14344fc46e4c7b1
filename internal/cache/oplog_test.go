package cache

import (
	"testing"
	"time"

	"mockpit/internal/models"
)

// TestOpLogOrder tests issue-order preservation and id normalization
func TestOpLogOrder(t *testing.T) {
	l := NewOpLog()
	l.Enqueue("A", models.MutationCreate, &models.Mapping{ID: "A"})
	l.Enqueue("b", models.MutationUpdate, &models.Mapping{ID: "b"})
	l.Enqueue("A", models.MutationUpdate, &models.Mapping{ID: "A"})

	ops := l.List()
	if len(ops) != 3 {
		t.Fatalf("Expected 3 operations, got %d", len(ops))
	}
	if ops[0].ID != "a" || ops[1].ID != "b" || ops[2].ID != "a" {
		t.Errorf("Unexpected order or normalization: %v", ops)
	}
	if ops[0].Kind != models.MutationCreate || ops[2].Kind != models.MutationUpdate {
		t.Error("Operation kinds not preserved")
	}
	if l.Len() != 3 {
		t.Errorf("Expected Len 3, got %d", l.Len())
	}
}

// TestOpLogConfirmRemovesAll tests that confirming an id drops every entry for it
func TestOpLogConfirmRemovesAll(t *testing.T) {
	l := NewOpLog()
	l.Enqueue("x", models.MutationCreate, &models.Mapping{ID: "x"})
	l.Enqueue("x", models.MutationUpdate, &models.Mapping{ID: "x"})
	l.Enqueue("y", models.MutationCreate, &models.Mapping{ID: "y"})

	if removed := l.Confirm("X"); removed != 2 {
		t.Errorf("Expected 2 removals, got %d", removed)
	}
	if l.Len() != 1 {
		t.Errorf("Expected 1 remaining operation, got %d", l.Len())
	}
	if l.List()[0].ID != "y" {
		t.Error("Wrong operation survived confirmation")
	}
}

// TestOpLogSweepExpired tests TTL-based removal with a controlled clock
func TestOpLogSweepExpired(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewOpLog()

	l.now = func() time.Time { return base }
	l.Enqueue("old", models.MutationCreate, &models.Mapping{ID: "old"})

	l.now = func() time.Time { return base.Add(25 * time.Second) }
	l.Enqueue("young", models.MutationCreate, &models.Mapping{ID: "young"})

	l.now = func() time.Time { return base.Add(35 * time.Second) }
	if removed := l.SweepExpired(30 * time.Second); removed != 1 {
		t.Errorf("Expected 1 expired operation, got %d", removed)
	}
	if l.Len() != 1 || l.List()[0].ID != "young" {
		t.Errorf("Expected only 'young' to survive, got %v", l.List())
	}

	if removed := l.SweepExpired(30 * time.Second); removed != 0 {
		t.Errorf("Second sweep should remove nothing, got %d", removed)
	}
}

// TestOpLogPendingDeletes tests latest-kind-wins semantics
func TestOpLogPendingDeletes(t *testing.T) {
	l := NewOpLog()
	l.Enqueue("recreated", models.MutationDelete, nil)
	l.Enqueue("recreated", models.MutationCreate, &models.Mapping{ID: "recreated"})
	l.Enqueue("doomed", models.MutationUpdate, &models.Mapping{ID: "doomed"})
	l.Enqueue("doomed", models.MutationDelete, nil)

	pending := l.PendingDeletes()
	if pending["recreated"] {
		t.Error("A delete followed by a create should not count as pending delete")
	}
	if !pending["doomed"] {
		t.Error("An update followed by a delete should count as pending delete")
	}
	if len(pending) != 1 {
		t.Errorf("Expected exactly 1 pending delete, got %d", len(pending))
	}
}

// TestOpLogClear tests wholesale removal
func TestOpLogClear(t *testing.T) {
	l := NewOpLog()
	l.Enqueue("a", models.MutationCreate, &models.Mapping{ID: "a"})
	l.Enqueue("b", models.MutationDelete, nil)

	l.Clear()
	if l.Len() != 0 {
		t.Errorf("Expected empty queue after clear, got %d", l.Len())
	}
	if len(l.PendingDeletes()) != 0 {
		t.Error("Pending deletes should be empty after clear")
	}
}

// TestOperationAge tests the age calculation
func TestOperationAge(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	op := Operation{ID: "a", Timestamp: ts}
	if age := op.Age(ts.Add(42 * time.Second)); age != 42*time.Second {
		t.Errorf("Expected age 42s, got %v", age)
	}
}
