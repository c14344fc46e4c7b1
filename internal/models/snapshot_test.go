package models

import (
	"testing"
	"time"
)

// TestHashSlimMappingsOrderIndependent tests that hashing ignores list order
func TestHashSlimMappingsOrderIndependent(t *testing.T) {
	a := SlimMapping{ID: "a", Name: "first"}
	b := SlimMapping{ID: "b", Name: "second"}

	h1 := HashSlimMappings([]SlimMapping{a, b})
	h2 := HashSlimMappings([]SlimMapping{b, a})
	if h1 != h2 {
		t.Errorf("Hash should be order independent: %s != %s", h1, h2)
	}
}

// TestHashSlimMappingsDetectsChange tests that content changes change the hash
func TestHashSlimMappingsDetectsChange(t *testing.T) {
	base := []SlimMapping{{ID: "a", Name: "first"}}
	changed := []SlimMapping{{ID: "a", Name: "renamed"}}

	if HashSlimMappings(base) == HashSlimMappings(changed) {
		t.Error("Different content should produce different hashes")
	}
	if HashSlimMappings(base) == HashSlimMappings(nil) {
		t.Error("Empty set should hash differently from a populated one")
	}
}

// TestNewSnapshotEnvelope tests envelope construction
func TestNewSnapshotEnvelope(t *testing.T) {
	mappings := []SlimMapping{{ID: "a"}, {ID: "b"}}
	env := NewSnapshotEnvelope(42, mappings)

	if env.Type != SnapshotEnvelopeType {
		t.Errorf("Expected type %q, got %q", SnapshotEnvelopeType, env.Type)
	}
	if env.Version != 42 {
		t.Errorf("Expected version 42, got %d", env.Version)
	}
	if env.Count != 2 {
		t.Errorf("Expected count 2, got %d", env.Count)
	}
	if env.Hash != HashSlimMappings(mappings) {
		t.Error("Envelope hash should match the mapping list hash")
	}
	if env.Timestamp <= 0 {
		t.Error("Expected a timestamp")
	}
}

// TestSnapshotAge tests age computation from the embedded timestamp
func TestSnapshotAge(t *testing.T) {
	env := SnapshotEnvelope{Timestamp: time.Now().Add(-90 * time.Second).UnixMilli()}

	age := env.Age(time.Now())
	if age < 89*time.Second || age > 91*time.Second {
		t.Errorf("Expected age around 90s, got %s", age)
	}
}
