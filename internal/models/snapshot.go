package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// SnapshotEnvelopeType marks a carrier payload as a cache snapshot.
const SnapshotEnvelopeType = "cache"

// SnapshotEnvelope is the payload persisted inside the carrier record. It
// wraps the slim projections with enough header material to compare two
// snapshots without decoding the mapping list.
type SnapshotEnvelope struct {
	Type      string        `json:"type"`
	Version   int64         `json:"version"`
	Timestamp int64         `json:"timestamp"` // unix milliseconds
	Count     int           `json:"count"`
	Hash      string        `json:"hash"`
	Mappings  []SlimMapping `json:"mappings"`
}

// NewSnapshotEnvelope builds a versioned envelope around the given slim set.
// The hash covers the mapping list only, so envelopes written at different
// times with identical content compare equal by hash.
func NewSnapshotEnvelope(version int64, mappings []SlimMapping) SnapshotEnvelope {
	return SnapshotEnvelope{
		Type:      SnapshotEnvelopeType,
		Version:   version,
		Timestamp: time.Now().UnixMilli(),
		Count:     len(mappings),
		Hash:      HashSlimMappings(mappings),
		Mappings:  mappings,
	}
}

// Age returns how long ago the envelope was written.
func (e SnapshotEnvelope) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.Timestamp))
}

// HashSlimMappings computes a content hash over a slim set, independent of
// ordering. Used to decide whether a stored snapshot still matches the one
// the engine would write now.
func HashSlimMappings(mappings []SlimMapping) string {
	sorted := make([]SlimMapping, len(mappings))
	copy(sorted, mappings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, m := range sorted {
		// Encoder errors are impossible for these field types.
		_ = enc.Encode(m)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
