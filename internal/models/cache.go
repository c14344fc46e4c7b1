package models

import "time"

// CacheSource identifies where the currently displayed mapping set came from.
type CacheSource string

const (
	// SourceSnapshot means the set was seeded from a carrier snapshot and has
	// not yet been replaced by an authoritative fetch.
	SourceSnapshot CacheSource = "snapshot"
	// SourceRemote means the set reflects the latest authoritative fetch.
	SourceRemote CacheSource = "remote"
	// SourceFallback means the remote was unreachable and no snapshot was
	// usable, so the set holds bundled demo data.
	SourceFallback CacheSource = "fallback"
)

// MutationKind classifies an optimistic operation.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// ChangeEvent is broadcast to dashboard clients whenever the displayed
// mapping set changes.
type ChangeEvent struct {
	Kind      string      `json:"kind"` // create|update|delete|reconcile|rebuild|reset
	MappingID string      `json:"mappingId,omitempty"`
	Source    CacheSource `json:"source"`
	Count     int         `json:"count"`
	Timestamp time.Time   `json:"timestamp"`
}

// CacheStatus is the observability surface of the sync engine, served on the
// cache status endpoint and scraped into gauges.
type CacheStatus struct {
	Source          CacheSource `json:"source"`
	Count           int         `json:"count"`
	PendingOps      int         `json:"pendingOps"`
	PendingDeletes  int         `json:"pendingDeletes"`
	SnapshotVersion int64       `json:"snapshotVersion"`
	SnapshotAge     string      `json:"snapshotAge,omitempty"`
	LastSync        time.Time   `json:"lastSync,omitempty"`
	LastRebuild     time.Time   `json:"lastRebuild,omitempty"`
	RemoteHealthy   bool        `json:"remoteHealthy"`
}
