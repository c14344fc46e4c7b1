package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"mockpit/internal/mockserver"
	"mockpit/internal/models"
)

// TestReconcileExcludesCarrier tests that the carrier never reaches the view
func TestReconcileExcludesCarrier(t *testing.T) {
	e, _ := NewEngine(newFakeAPI(), quietOpts())

	env := models.NewSnapshotEnvelope(1, nil)
	final := e.reconcile([]*models.Mapping{
		BuildCarrier(env),
		{ID: "a", Name: "first"},
		{ID: "b", Name: "second"},
	})

	if len(final) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(final))
	}
	if e.store.Has(CarrierID) {
		t.Error("Carrier leaked into the store")
	}
}

// TestReconcileDropsPendingDelete tests suppression of not-yet-deleted records
func TestReconcileDropsPendingDelete(t *testing.T) {
	e, _ := NewEngine(newFakeAPI(), quietOpts())
	e.oplog.Enqueue("stale", models.MutationDelete, nil)

	final := e.reconcile([]*models.Mapping{
		{ID: "stale", Name: "should vanish"},
		{ID: "live", Name: "should stay"},
	})

	if len(final) != 1 || final[0].ID != "live" {
		t.Fatalf("Expected only 'live' to survive, got %+v", final)
	}
	if e.oplog.Len() != 1 {
		t.Errorf("Delete op should stay pending while the remote still lists the id, got %d ops", e.oplog.Len())
	}
}

// TestReconcileConfirmsDeleteWhenGone tests delete confirmation on absence
func TestReconcileConfirmsDeleteWhenGone(t *testing.T) {
	e, _ := NewEngine(newFakeAPI(), quietOpts())
	e.oplog.Enqueue("gone", models.MutationDelete, nil)

	e.reconcile([]*models.Mapping{{ID: "live"}})

	if e.oplog.Len() != 0 {
		t.Errorf("Delete op should be confirmed once the remote stops listing the id, got %d ops", e.oplog.Len())
	}
}

// TestReconcileGuardSuppresses tests the deletion grace window during merges
func TestReconcileGuardSuppresses(t *testing.T) {
	e, _ := NewEngine(newFakeAPI(), quietOpts())
	e.guard.Add("ghost")

	final := e.reconcile([]*models.Mapping{
		{ID: "ghost", Name: "deleted moments ago"},
		{ID: "live", Name: "still here"},
	})

	if len(final) != 1 || final[0].ID != "live" {
		t.Fatalf("Expected the guarded id to be dropped, got %+v", final)
	}
}

// TestReconcileOverlaysOptimisticOps tests overlay order and later-op-wins
func TestReconcileOverlaysOptimisticOps(t *testing.T) {
	e, _ := NewEngine(newFakeAPI(), quietOpts())
	e.oplog.Enqueue("opt-1", models.MutationCreate, &models.Mapping{ID: "opt-1", Name: "v1"})
	e.oplog.Enqueue("opt-2", models.MutationCreate, &models.Mapping{ID: "opt-2", Name: "other"})
	e.oplog.Enqueue("opt-1", models.MutationUpdate, &models.Mapping{ID: "opt-1", Name: "v2"})

	final := e.reconcile([]*models.Mapping{{ID: "real-1", Name: "remote"}})

	if len(final) != 3 {
		t.Fatalf("Expected remote + 2 overlays, got %d records", len(final))
	}
	if final[0].ID != "real-1" {
		t.Errorf("Remote records should come first, got %q", final[0].ID)
	}
	if final[1].ID != "opt-1" || final[1].Name != "v2" {
		t.Errorf("Expected later op to win for opt-1, got %q/%q", final[1].ID, final[1].Name)
	}
	if final[2].ID != "opt-2" {
		t.Errorf("Expected opt-2 last, got %q", final[2].ID)
	}
	if e.oplog.Len() != 3 {
		t.Errorf("Unconfirmed overlays should stay queued, got %d ops", e.oplog.Len())
	}
}

// TestReconcileRemoteWins tests confirmation of ops the remote now reflects
func TestReconcileRemoteWins(t *testing.T) {
	e, _ := NewEngine(newFakeAPI(), quietOpts())
	e.oplog.Enqueue("c1", models.MutationCreate, &models.Mapping{ID: "c1", Name: "local draft"})

	final := e.reconcile([]*models.Mapping{{ID: "c1", Name: "server version"}})

	if len(final) != 1 || final[0].Name != "server version" {
		t.Fatalf("Expected the remote payload to win, got %+v", final)
	}
	if e.oplog.Len() != 0 {
		t.Errorf("Reflected op should be confirmed away, got %d ops", e.oplog.Len())
	}
}

// TestReconcileSkipsUnidentified tests tolerance of id-less remote records
func TestReconcileSkipsUnidentified(t *testing.T) {
	e, _ := NewEngine(newFakeAPI(), quietOpts())

	final := e.reconcile([]*models.Mapping{
		{Name: "no id at all"},
		nil,
		{ID: "ok"},
	})

	if len(final) != 1 || final[0].ID != "ok" {
		t.Fatalf("Expected only the identified record, got %+v", final)
	}
}

// TestRebuildDeferredWhileRunning tests the run-again flag
func TestRebuildDeferredWhileRunning(t *testing.T) {
	api := newFakeAPI()
	e, _ := NewEngine(api, quietOpts())

	e.mu.Lock()
	e.rebuilding = true
	e.mu.Unlock()

	if err := e.rebuild(context.Background(), "overlap"); err != nil {
		t.Fatalf("Deferred rebuild should return nil, got %v", err)
	}
	if api.listCallCount() != 0 {
		t.Error("Deferred rebuild must not fetch")
	}
	e.mu.Lock()
	again := e.rebuildAgain
	e.rebuilding = false
	e.mu.Unlock()
	if !again {
		t.Error("Expected the run-again flag to be set")
	}
}

// TestRebuildRunsDeferredPass tests that an overlapping request runs afterwards
func TestRebuildRunsDeferredPass(t *testing.T) {
	api := newFakeAPI(&models.Mapping{ID: "map-1"})
	gate := make(chan struct{}, 2)
	api.listGate = gate

	rec := &fakeRecorder{}
	opts := quietOpts()
	opts.Recorder = rec
	e, _ := NewEngine(api, opts)

	done := make(chan error, 1)
	go func() {
		done <- e.rebuild(context.Background(), "first")
	}()

	if !waitFor(2*time.Second, func() bool { return api.listCallCount() == 1 }) {
		t.Fatal("First rebuild never reached the fetch")
	}
	if err := e.rebuild(context.Background(), "second"); err != nil {
		t.Fatalf("Overlapping rebuild should defer cleanly, got %v", err)
	}

	gate <- struct{}{}
	gate <- struct{}{}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Rebuild failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Rebuild did not finish")
	}

	if got := api.listCallCount(); got != 2 {
		t.Errorf("Expected the deferred pass to fetch again, got %d fetches", got)
	}
	rec.mu.Lock()
	syncs := append([]string(nil), rec.syncs...)
	rec.mu.Unlock()
	if len(syncs) != 2 || syncs[1] != "deferred" {
		t.Errorf("Expected [first deferred] sync triggers, got %v", syncs)
	}
}

// TestScheduleRebuildDebounce tests trailing-edge coalescing
func TestScheduleRebuildDebounce(t *testing.T) {
	api := newFakeAPI(&models.Mapping{ID: "map-1"})
	e, _ := NewEngine(api, quietOpts())

	e.ScheduleRebuild(200 * time.Millisecond)
	e.ScheduleRebuild(50 * time.Millisecond)
	e.ScheduleRebuild(50 * time.Millisecond)

	if !waitFor(2*time.Second, func() bool { return api.listCallCount() == 1 }) {
		t.Fatal("Scheduled rebuild never ran")
	}
	time.Sleep(300 * time.Millisecond)
	if got := api.listCallCount(); got != 1 {
		t.Errorf("Expected a single coalesced rebuild, got %d", got)
	}
}

// TestSweepSchedulesRebuild tests expiry-driven divergence recovery
func TestSweepSchedulesRebuild(t *testing.T) {
	api := newFakeAPI(&models.Mapping{ID: "map-1"})
	rec := &fakeRecorder{}
	opts := quietOpts()
	opts.OpTTL = 30 * time.Second
	opts.RebuildDebounce = 30 * time.Millisecond
	opts.Recorder = rec
	e, _ := NewEngine(api, opts)

	past := time.Now().Add(-time.Minute)
	e.oplog.now = func() time.Time { return past }
	e.oplog.Enqueue("lost", models.MutationCreate, &models.Mapping{ID: "lost"})
	e.oplog.now = time.Now

	e.sweepExpired()

	if e.oplog.Len() != 0 {
		t.Errorf("Expected the expired op to be swept, got %d", e.oplog.Len())
	}
	if rec.sweepTotal() != 1 {
		t.Errorf("Expected 1 recorded sweep, got %d", rec.sweepTotal())
	}
	if !waitFor(2*time.Second, func() bool { return api.listCallCount() == 1 }) {
		t.Error("Sweep should have scheduled a rebuild")
	}
}

// TestSweepNoopWhenFresh tests that young ops survive the sweep
func TestSweepNoopWhenFresh(t *testing.T) {
	api := newFakeAPI()
	e, _ := NewEngine(api, quietOpts())
	e.oplog.Enqueue("young", models.MutationCreate, &models.Mapping{ID: "young"})

	e.sweepExpired()

	if e.oplog.Len() != 1 {
		t.Errorf("Fresh op should survive, got %d ops", e.oplog.Len())
	}
	time.Sleep(50 * time.Millisecond)
	if api.listCallCount() != 0 {
		t.Error("No rebuild should be scheduled for a clean sweep")
	}
}

// TestValidateFreshSkips tests the cheap exit of the validation pass
func TestValidateFreshSkips(t *testing.T) {
	api := newFakeAPI()
	e, _ := NewEngine(api, quietOpts())
	e.runCtx, e.cancel = context.WithCancel(context.Background())
	defer e.cancel()

	e.mu.Lock()
	e.lastSync = time.Now()
	e.mu.Unlock()

	e.validate()

	api.mu.Lock()
	gets, lists := api.getCalls, api.listCalls
	api.mu.Unlock()
	if gets != 0 || lists != 0 {
		t.Errorf("Fresh engine should skip validation work, got %d gets and %d lists", gets, lists)
	}
}

// TestValidateMatchingHashRefreshes tests the hash-equal fast path
func TestValidateMatchingHashRefreshes(t *testing.T) {
	api := newFakeAPI()
	e, _ := NewEngine(api, quietOpts())
	e.runCtx, e.cancel = context.WithCancel(context.Background())
	defer e.cancel()

	e.store.Set(&models.Mapping{ID: "map-1", Name: "steady"})
	api.add(BuildCarrier(models.NewSnapshotEnvelope(3, e.currentSlims())))

	stale := time.Now().Add(-time.Hour)
	e.mu.Lock()
	e.lastSync = stale
	e.mu.Unlock()

	e.validate()

	e.mu.Lock()
	refreshed := e.lastSync
	e.mu.Unlock()
	if !refreshed.After(stale) {
		t.Error("Matching hash should refresh the sync timestamp")
	}
	if api.listCallCount() != 0 {
		t.Error("Matching hash should not trigger a rebuild")
	}
}

// TestValidateDivergedRebuilds tests recovery from a drifted carrier
func TestValidateDivergedRebuilds(t *testing.T) {
	api := newFakeAPI(&models.Mapping{ID: "authoritative-1", Name: "truth"})
	api.add(BuildCarrier(models.NewSnapshotEnvelope(2, []models.SlimMapping{
		{ID: "drifted", Name: "old view"},
	})))
	e, _ := NewEngine(api, quietOpts())
	e.runCtx, e.cancel = context.WithCancel(context.Background())
	defer e.cancel()

	e.store.Set(&models.Mapping{ID: "map-1", Name: "displayed"})
	e.mu.Lock()
	e.lastSync = time.Now().Add(-time.Hour)
	e.mu.Unlock()

	e.validate()

	if api.listCallCount() != 1 {
		t.Errorf("Diverged carrier should trigger a rebuild, got %d fetches", api.listCallCount())
	}
	if _, ok := e.GetByID("authoritative-1"); !ok {
		t.Error("Rebuild result missing from the view")
	}
}

// TestValidateMissingCarrierRebuilds tests self-healing of a lost carrier
func TestValidateMissingCarrierRebuilds(t *testing.T) {
	api := newFakeAPI(&models.Mapping{ID: "map-1"})
	e, _ := NewEngine(api, quietOpts())
	e.runCtx, e.cancel = context.WithCancel(context.Background())
	defer e.cancel()

	e.mu.Lock()
	e.lastSync = time.Now().Add(-time.Hour)
	e.mu.Unlock()

	e.validate()

	if api.listCallCount() != 1 {
		t.Errorf("Missing carrier should trigger a rebuild, got %d fetches", api.listCallCount())
	}
}

// TestValidatePendingOpsThreshold tests the pending-op pressure trigger
func TestValidatePendingOpsThreshold(t *testing.T) {
	api := newFakeAPI(&models.Mapping{ID: "map-1"})
	opts := quietOpts()
	opts.MaxPendingOps = 2
	e, _ := NewEngine(api, opts)
	e.runCtx, e.cancel = context.WithCancel(context.Background())
	defer e.cancel()

	e.mu.Lock()
	e.lastSync = time.Now()
	e.mu.Unlock()
	for _, id := range []string{"p1", "p2", "p3"} {
		e.oplog.Enqueue(id, models.MutationUpdate, &models.Mapping{ID: id})
	}

	e.validate()

	if api.listCallCount() != 1 {
		t.Errorf("Pending-op pressure should trigger a rebuild, got %d fetches", api.listCallCount())
	}
}

// TestImportCreatesAll tests a clean bulk import
func TestImportCreatesAll(t *testing.T) {
	api := newFakeAPI()
	e, _ := NewEngine(api, quietOpts())

	created, err := e.Import(context.Background(), []*models.Mapping{
		{ID: "import-a", Name: "a"},
		nil,
		BuildCarrier(models.NewSnapshotEnvelope(1, nil)),
		{ID: "import-b", Name: "b"},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("Expected 2 created records, got %d", len(created))
	}
	if !api.has("import-a") || !api.has("import-b") {
		t.Error("Imported records missing remotely")
	}
	if api.has(CarrierID) {
		t.Error("A carrier smuggled through the import should be skipped")
	}
}

// TestImportRollsBack tests compensating deletes on mid-batch failure
func TestImportRollsBack(t *testing.T) {
	api := newFakeAPI()
	api.failCreateAt = 3
	e, _ := NewEngine(api, quietOpts())

	_, err := e.Import(context.Background(), []*models.Mapping{
		{ID: "import-a", Name: "a"},
		{ID: "import-b", Name: "b"},
		{ID: "import-c", Name: "c"},
	})
	if err == nil {
		t.Fatal("Expected mid-batch failure to surface")
	}
	if !strings.Contains(err.Error(), "import failed at record 2") {
		t.Errorf("Expected the failing index in the error, got %v", err)
	}

	deletes := api.deletes()
	if len(deletes) != 2 || deletes[0] != "import-b" || deletes[1] != "import-a" {
		t.Errorf("Expected reverse-order rollback [import-b import-a], got %v", deletes)
	}
	if api.has("import-a") || api.has("import-b") {
		t.Error("Rolled-back records still present remotely")
	}
	if _, ok := e.GetByID("import-a"); ok {
		t.Error("Rolled-back record still visible locally")
	}
}

// TestRefreshForcesFetch tests the manual refresh path
func TestRefreshForcesFetch(t *testing.T) {
	api := newFakeAPI(&models.Mapping{ID: "map-1", Name: "first"})
	e, _ := NewEngine(api, quietOpts())

	view, err := e.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(view) != 1 {
		t.Fatalf("Expected 1 mapping, got %d", len(view))
	}

	api.add(&models.Mapping{ID: "map-2", Name: "second"})
	view, err = e.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Second refresh failed: %v", err)
	}
	if len(view) != 2 {
		t.Errorf("Expected the fresh remote state, got %d mappings", len(view))
	}
}

// TestResetAll tests the restore-and-rebuild flow
func TestResetAll(t *testing.T) {
	api := newFakeAPI(&models.Mapping{ID: "scratch-1", Name: "temporary"})
	api.resetTo = []*models.Mapping{
		{ID: "default-1", Name: "factory"},
		{ID: "default-2", Name: "factory too"},
	}
	e, _ := NewEngine(api, quietOpts())

	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Initial refresh failed: %v", err)
	}
	e.oplog.Enqueue("scratch-1", models.MutationUpdate, &models.Mapping{ID: "scratch-1"})
	// A lingering suppression must not hide a restored default.
	e.guard.Add("default-1")

	if err := e.ResetAll(context.Background()); err != nil {
		t.Fatalf("ResetAll failed: %v", err)
	}
	if e.oplog.Len() != 0 {
		t.Errorf("Reset should drop pending ops, got %d", e.oplog.Len())
	}
	if e.guard.Len() != 0 {
		t.Errorf("Reset should empty the deletion guard, got %d", e.guard.Len())
	}
	if _, ok := e.GetByID("default-1"); !ok {
		t.Error("Restored defaults missing from the view")
	}
	if _, ok := e.GetByID("scratch-1"); ok {
		t.Error("Pre-reset record survived")
	}
}

// TestResetAllRemoteFailure tests that a failed reset leaves state alone
func TestResetAllRemoteFailure(t *testing.T) {
	api := newFakeAPI(&models.Mapping{ID: "map-1"})
	e, _ := NewEngine(api, quietOpts())
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	api.resetErr = &mockserver.StatusError{StatusCode: 500}
	if err := e.ResetAll(context.Background()); err == nil {
		t.Fatal("Expected reset failure to surface")
	}
	if _, ok := e.GetByID("map-1"); !ok {
		t.Error("Failed reset should not clear the local view")
	}
}

// TestPersist tests the save passthrough
func TestPersist(t *testing.T) {
	api := newFakeAPI()
	e, _ := NewEngine(api, quietOpts())

	if err := e.Persist(context.Background()); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	api.mu.Lock()
	calls := api.persistCalls
	api.mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected 1 persist call, got %d", calls)
	}

	api.persistErr = &mockserver.StatusError{StatusCode: 500}
	if err := e.Persist(context.Background()); err == nil {
		t.Error("Expected persist failure to surface")
	}
}
