package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"mockpit/internal/logging"
	"mockpit/internal/mockserver"
	"mockpit/internal/models"
)

// initialLoad seeds the displayed set. The snapshot path paints fast from
// the carrier record and defers the authoritative fetch; the direct path
// fetches immediately and regenerates the snapshot afterward. When both the
// snapshot and the remote are unusable, the bundled demo set is served.
func (e *Engine) initialLoad(ctx context.Context) {
	if e.opts.UseSnapshot {
		env, _ := e.snaps.Discover(ctx)
		if env != nil && len(env.Mappings) > 0 {
			records := make([]*models.Mapping, 0, len(env.Mappings))
			for _, slim := range env.Mappings {
				records = append(records, slim.Inflate())
			}
			if e.store.SeedFrom(records) {
				e.mu.Lock()
				e.source = models.SourceSnapshot
				e.lastSnapshotAt = time.UnixMilli(env.Timestamp)
				e.mu.Unlock()

				log.Printf("⚡ [CACHE] Seeded %d mappings from snapshot (version %d, age %s)",
					e.store.Count(), env.Version, env.Age(time.Now()).Round(time.Second))
				e.notify("seed", "")

				// Give any in-flight mutation a moment to land before the
				// authoritative fetch replaces the view.
				e.wg.Add(1)
				go func() {
					defer e.wg.Done()
					select {
					case <-time.After(e.opts.SettleDelay):
					case <-e.runCtx.Done():
						return
					}
					if err := e.rebuild(e.runCtx, "settle"); err != nil {
						log.Printf("⚠️  [CACHE] Post-seed fetch failed: %v", err)
					}
				}()
				return
			}
		}
		log.Printf("ℹ️  [CACHE] No usable snapshot, fetching directly")
	}

	if err := e.rebuild(ctx, "initial"); err != nil {
		log.Printf("❌ [CACHE] Initial fetch failed: %v", err)
		e.fallbackToDemo()
	}
}

func (e *Engine) fallbackToDemo() {
	if len(e.opts.DemoData) == 0 || e.store.Count() > 0 {
		return
	}
	if e.store.SeedFrom(e.opts.DemoData) {
		e.mu.Lock()
		e.source = models.SourceFallback
		e.lastGood = e.opts.DemoData
		e.mu.Unlock()
		log.Printf("🎭 [CACHE] Serving %d demo mappings until the mock server is reachable", e.store.Count())
		e.notify("fallback", "")
	}
}

// RebuildNow fetches the authoritative list and reconciles it into the
// store. Concurrent calls never interleave: a rebuild requested while one
// is running is deferred and the running one goes again once finished.
func (e *Engine) RebuildNow(ctx context.Context) error {
	return e.rebuild(ctx, "manual")
}

// ScheduleRebuild queues a debounced rebuild; repeated requests collapse
// into the trailing one.
func (e *Engine) ScheduleRebuild(delay time.Duration) {
	if delay <= 0 {
		delay = e.opts.RebuildDebounce
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rebuildTimer != nil {
		e.rebuildTimer.Stop()
	}
	e.rebuildTimer = time.AfterFunc(delay, func() {
		if err := e.rebuild(e.runCtx, "scheduled"); err != nil {
			log.Printf("⚠️  [CACHE] Scheduled rebuild failed: %v", err)
		}
	})
}

func (e *Engine) rebuild(ctx context.Context, trigger string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.rebuilding {
		e.rebuildAgain = true
		e.mu.Unlock()
		return nil
	}
	e.rebuilding = true
	e.mu.Unlock()

	var err error
	for {
		err = e.rebuildOnce(ctx, trigger)

		e.mu.Lock()
		if !e.rebuildAgain {
			e.rebuilding = false
			e.mu.Unlock()
			return err
		}
		e.rebuildAgain = false
		e.mu.Unlock()
		trigger = "deferred"
	}
}

func (e *Engine) rebuildOnce(ctx context.Context, trigger string) error {
	start := time.Now()
	logger := logging.WithSync(e.cycle.Add(1), trigger)

	remote, err := e.fetches.fetch(ctx, true)
	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordSync(trigger, time.Since(start), err)
	}
	if err != nil {
		e.mu.Lock()
		e.remoteHealthy = false
		e.mu.Unlock()
		logger.Warn("authoritative fetch failed", "error", err)
		e.fallbackToDemo()
		return err
	}

	final := e.reconcile(remote)

	e.mu.Lock()
	e.source = models.SourceRemote
	e.lastSync = time.Now()
	e.lastRebuild = time.Now()
	e.remoteHealthy = true
	e.lastGood = final
	e.mu.Unlock()

	logger.Info("reconciled authoritative fetch",
		"remote", len(remote),
		"final", len(final),
		"pending_ops", e.oplog.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	e.notify("reconcile", "")
	e.markSnapshotDirty()
	return nil
}

// reconcile merges an authoritative remote list with the outstanding
// optimistic operations into the final displayed set:
//
//  1. carrier records are excluded;
//  2. remote records with an unconfirmed delete pending, or still inside
//     the deletion guard window, are dropped;
//  3. optimistic creates/updates absent from the remote list are appended
//     in issue order, later operations overriding earlier ones;
//  4. for ids the remote list does hold, the remote payload wins and
//     create/update entries are confirmed away; a delete entry stays
//     pending until a fetch no longer reports the id.
func (e *Engine) reconcile(remote []*models.Mapping) []*models.Mapping {
	pendingDeletes := e.oplog.PendingDeletes()

	remotePresent := make(map[string]bool, len(remote))
	for _, m := range remote {
		if m == nil || IsCarrier(m) {
			continue
		}
		for _, alias := range models.ExtractIdentifiers(m).Aliases {
			remotePresent[alias] = true
		}
	}

	final := make([]*models.Mapping, 0, len(remote))
	for _, m := range remote {
		if m == nil || IsCarrier(m) {
			continue
		}
		ids := models.ExtractIdentifiers(m)
		if ids.Empty() {
			// A record with no usable alias cannot be indexed; skip it
			// rather than abort the batch.
			continue
		}
		drop := false
		for _, alias := range ids.Aliases {
			if pendingDeletes[alias] || e.guard.Contains(alias) {
				drop = true
				break
			}
		}
		if drop {
			continue
		}
		final = append(final, m)
	}

	var confirmed []string
	overlay := make(map[string]*models.Mapping)
	var overlayOrder []string
	for _, op := range e.oplog.List() {
		switch op.Kind {
		case models.MutationCreate, models.MutationUpdate:
			if remotePresent[op.ID] {
				confirmed = append(confirmed, op.ID)
				continue
			}
			if op.Payload == nil {
				continue
			}
			if _, seen := overlay[op.ID]; !seen {
				overlayOrder = append(overlayOrder, op.ID)
			}
			overlay[op.ID] = op.Payload
		case models.MutationDelete:
			if !remotePresent[op.ID] {
				// The remote list no longer holds the id, so the deletion
				// is reflected and the operation has served its purpose.
				confirmed = append(confirmed, op.ID)
			}
		}
	}
	for _, id := range overlayOrder {
		final = append(final, overlay[id])
	}
	for _, id := range confirmed {
		e.oplog.Confirm(id)
	}

	e.store.Reset(final)
	return final
}

// sweepExpired drops optimistic operations past their TTL. Removals mean a
// confirmation was lost and local state likely diverged, so a rebuild is
// scheduled opportunistically.
func (e *Engine) sweepExpired() {
	removed := e.oplog.SweepExpired(e.opts.OpTTL)
	if removed == 0 {
		return
	}
	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordSweep(removed)
	}
	log.Printf("🧹 [CACHE] Swept %d expired optimistic operations, scheduling rebuild", removed)
	e.ScheduleRebuild(e.opts.RebuildDebounce)
}

// validate is the low-frequency staleness check. It inspects time since the
// last successful sync and the outstanding operation count; past either
// threshold it re-runs discovery and self-heals a missing, unreadable, or
// divergent carrier with a full rebuild.
func (e *Engine) validate() {
	e.mu.Lock()
	sinceSync := time.Since(e.lastSync)
	e.mu.Unlock()
	pending := e.oplog.Len()

	if sinceSync <= e.opts.StaleThreshold && pending <= e.opts.MaxPendingOps {
		return
	}
	log.Printf("🔍 [CACHE] Validation triggered (last sync %s ago, %d pending ops)",
		sinceSync.Round(time.Second), pending)

	ctx, cancel := context.WithTimeout(e.runCtx, 30*time.Second)
	defer cancel()

	env, err := e.snaps.Discover(ctx)
	if env == nil {
		if err != nil {
			log.Printf("⚠️  [CACHE] Carrier unreadable during validation: %v", err)
		} else {
			log.Printf("⚠️  [CACHE] Carrier missing during validation, rebuilding")
		}
		if rerr := e.rebuild(e.runCtx, "validation"); rerr != nil {
			log.Printf("❌ [CACHE] Validation rebuild failed: %v", rerr)
		}
		return
	}

	if env.Hash == models.HashSlimMappings(e.currentSlims()) {
		// Carrier still matches the displayed set; nothing drifted.
		e.mu.Lock()
		e.lastSync = time.Now()
		e.mu.Unlock()
		return
	}

	log.Printf("🔄 [CACHE] Carrier diverged from displayed set, rebuilding")
	if rerr := e.rebuild(e.runCtx, "validation"); rerr != nil {
		log.Printf("❌ [CACHE] Validation rebuild failed: %v", rerr)
	}
}

// ApplyMutation applies a local mutation optimistically, records it in the
// operation queue, then performs the remote write. The local view is
// updated before the remote call so the dashboard re-renders immediately;
// remote failures are surfaced to the caller but the optimistic state is
// kept until a reconcile or TTL sweep resolves it.
func (e *Engine) ApplyMutation(ctx context.Context, m *models.Mapping, kind models.MutationKind) (*models.Mapping, error) {
	if m == nil {
		return nil, ErrNoIdentifier
	}
	if kind == models.MutationCreate && models.ExtractIdentifiers(m).Empty() {
		m.ID = uuid.New().String()
	}
	ids := models.ExtractIdentifiers(m)
	if ids.Empty() {
		return nil, ErrNoIdentifier
	}
	if IsCarrier(m) {
		return nil, ErrReservedIdentifier
	}
	canonical := ids.Canonical

	switch kind {
	case models.MutationCreate:
		// Recreating a just-deleted id lifts its suppression window.
		for _, alias := range ids.Aliases {
			e.guard.Clear(alias)
		}
		e.store.Set(m.Clone())
		e.oplog.Enqueue(canonical, kind, m.Clone())
	case models.MutationUpdate:
		e.store.Merge(canonical, m.Clone())
		e.oplog.Enqueue(canonical, kind, m.Clone())
	case models.MutationDelete:
		// The caller may address the record by a single alias; the guard has
		// to cover every alias the stored record is known by.
		if existing, ok := e.store.Get(canonical); ok {
			ids = unionAliases(ids, models.ExtractIdentifiers(existing))
		}
		e.store.Delete(canonical)
		e.oplog.Enqueue(canonical, kind, nil)
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", kind)
	}
	e.notify(string(kind), canonical)

	result, err := e.applyRemote(ctx, m, kind, canonical, ids)
	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordMutation(kind, err)
	}
	e.markSnapshotDirty()
	if err != nil {
		logging.WithMapping(logging.WithSync(e.cycle.Load(), "mutation"), canonical, string(kind)).
			Warn("remote write failed, optimistic state kept", "error", err)
		return nil, err
	}
	return result, nil
}

func (e *Engine) applyRemote(ctx context.Context, m *models.Mapping, kind models.MutationKind, canonical string, ids models.Identifiers) (*models.Mapping, error) {
	switch kind {
	case models.MutationCreate:
		created, err := e.api.CreateMapping(ctx, m)
		if err != nil {
			e.markUnhealthy(err)
			return nil, err
		}
		e.oplog.Confirm(canonical)
		e.store.Set(created.Clone())
		return created, nil

	case models.MutationUpdate:
		updated, err := e.api.UpdateMapping(ctx, canonical, m)
		if err != nil {
			e.markUnhealthy(err)
			return nil, err
		}
		e.oplog.Confirm(canonical)
		e.store.Merge(canonical, updated.Clone())
		if full, ok := e.store.Get(canonical); ok {
			return full.Clone(), nil
		}
		return updated, nil

	case models.MutationDelete:
		err := e.api.DeleteMapping(ctx, canonical)
		if err != nil && !errors.Is(err, mockserver.ErrNotFound) {
			e.markUnhealthy(err)
			return nil, err
		}
		// Deleting an id the server no longer holds is still a deletion.
		e.oplog.Confirm(canonical)
		for _, alias := range ids.Aliases {
			e.guard.Add(alias)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown mutation kind %q", kind)
}

func unionAliases(a, b models.Identifiers) models.Identifiers {
	for _, alias := range b.Aliases {
		known := false
		for _, have := range a.Aliases {
			if have == alias {
				known = true
				break
			}
		}
		if !known {
			a.Aliases = append(a.Aliases, alias)
		}
	}
	return a
}

func (e *Engine) markUnhealthy(err error) {
	if !errors.Is(err, mockserver.ErrUnavailable) {
		return
	}
	e.mu.Lock()
	e.remoteHealthy = false
	e.mu.Unlock()
}

// Import creates a batch of mappings. The batch is not atomic on the remote
// side, so a mid-batch failure rolls already-created records back with
// compensating deletes and reports the failing index.
func (e *Engine) Import(ctx context.Context, mappings []*models.Mapping) ([]*models.Mapping, error) {
	created := make([]*models.Mapping, 0, len(mappings))
	for i, m := range mappings {
		if m == nil || IsCarrier(m) {
			continue
		}
		result, err := e.ApplyMutation(ctx, m, models.MutationCreate)
		if err != nil {
			e.rollbackImport(ctx, created)
			return nil, fmt.Errorf("import failed at record %d: %w", i, err)
		}
		created = append(created, result)
	}
	log.Printf("📥 [CACHE] Imported %d mappings", len(created))
	return created, nil
}

func (e *Engine) rollbackImport(ctx context.Context, created []*models.Mapping) {
	if len(created) == 0 {
		return
	}
	log.Printf("↩️  [CACHE] Rolling back %d imported mappings", len(created))
	for i := len(created) - 1; i >= 0; i-- {
		id := models.ExtractIdentifiers(created[i]).Canonical
		if _, err := e.ApplyMutation(ctx, created[i], models.MutationDelete); err != nil {
			log.Printf("⚠️  [CACHE] Rollback delete failed for %s: %v", id, err)
		}
	}
}

// Refresh forces a fresh authoritative fetch and returns the reconciled
// view.
func (e *Engine) Refresh(ctx context.Context) ([]*models.Mapping, error) {
	err := e.rebuild(ctx, "refresh")
	return e.GetAll(), err
}

// ResetAll asks the server to restore its default mapping set, drops all
// optimistic state, and rebuilds from the restored collection.
func (e *Engine) ResetAll(ctx context.Context) error {
	if err := e.api.ResetMappings(ctx); err != nil {
		e.markUnhealthy(err)
		return err
	}
	e.oplog.Clear()
	e.store.Clear()
	e.guard.ClearAll()
	e.notify("reset", "")

	if err := e.rebuild(ctx, "reset"); err != nil {
		return err
	}
	log.Printf("🗑️  [CACHE] Mapping set reset, %d mappings after rebuild", e.store.Count())
	return nil
}

// Persist asks the server to save its in-memory mappings to its backing
// store. Passthrough; the cache state does not change.
func (e *Engine) Persist(ctx context.Context) error {
	if err := e.api.PersistMappings(ctx); err != nil {
		e.markUnhealthy(err)
		return err
	}
	return nil
}
