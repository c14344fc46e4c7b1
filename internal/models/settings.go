package models

// DashboardSettings holds operator preferences loaded from the settings file.
// The file is watched and reloaded live; a zero value means "use defaults".
type DashboardSettings struct {
	// ValidationCron overrides the periodic snapshot validation schedule.
	// Standard 5-field cron expression; empty keeps the interval timer.
	ValidationCron string `json:"validationCron,omitempty"`
	// AutoRefreshSeconds drives the frontend poll hint surfaced on the
	// status endpoint. Zero disables the hint.
	AutoRefreshSeconds int `json:"autoRefreshSeconds,omitempty"`
	// ShowSnapshotBanner toggles the "data may be stale" banner the frontend
	// shows while the cache source is still snapshot or fallback.
	ShowSnapshotBanner bool `json:"showSnapshotBanner,omitempty"`
}
