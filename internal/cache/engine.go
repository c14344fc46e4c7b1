package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"mockpit/internal/mockserver"
	"mockpit/internal/models"
)

// Sentinel errors surfaced to mutation callers.
var (
	ErrNoIdentifier       = errors.New("mapping has no usable identifier")
	ErrReservedIdentifier = errors.New("identifier is reserved for internal use")
	ErrNotStarted         = errors.New("engine not started")
)

// Notifier receives change events for fan-out to dashboard clients.
type Notifier interface {
	BroadcastChange(models.ChangeEvent)
}

// Recorder observes engine activity for metrics export.
type Recorder interface {
	RecordSync(trigger string, duration time.Duration, err error)
	RecordSnapshotPush(err error)
	RecordMutation(kind models.MutationKind, err error)
	RecordSweep(removed int)
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	OpTTL              time.Duration
	GuardTTL           time.Duration
	SweepInterval      time.Duration
	ValidationInterval time.Duration
	ValidationCron     string // optional cron override for the validation job
	StaleThreshold     time.Duration
	MaxPendingOps      int
	SettleDelay        time.Duration
	RebuildDebounce    time.Duration
	UseSnapshot        bool
	DemoData           []*models.Mapping

	Notifier Notifier
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.OpTTL <= 0 {
		o.OpTTL = 30 * time.Second
	}
	if o.GuardTTL <= 0 {
		o.GuardTTL = 15 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 10 * time.Second
	}
	if o.ValidationInterval <= 0 {
		o.ValidationInterval = 60 * time.Second
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 5 * time.Minute
	}
	if o.MaxPendingOps <= 0 {
		o.MaxPendingOps = 20
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 2 * time.Second
	}
	if o.RebuildDebounce <= 0 {
		o.RebuildDebounce = 5 * time.Second
	}
	return o
}

// Engine keeps the locally held mapping set consistent with the remote
// collection. Local writes apply immediately and reconcile once the remote
// system confirms or rejects them; a snapshot of the current view is pushed
// back into the collection as the carrier record for fast restarts.
type Engine struct {
	opts  Options
	api   mockserver.API
	store *Store
	oplog *OpLog
	guard *DeletionGuard
	snaps *Persistence

	fetches *fetcher
	cycle   atomic.Int64

	mu             sync.Mutex
	rebuilding     bool
	rebuildAgain   bool
	source         models.CacheSource
	lastSync       time.Time
	lastRebuild    time.Time
	lastSnapshotAt time.Time
	remoteHealthy  bool
	lastGood       []*models.Mapping
	rebuildTimer   *time.Timer

	snapshotDirty chan struct{}
	scheduler     gocron.Scheduler
	validationJob gocron.Job
	runCtx        context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	started       atomic.Bool
}

// NewEngine builds an engine over the given admin client. Call Start to
// begin serving.
func NewEngine(api mockserver.API, opts Options) (*Engine, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	e := &Engine{
		opts:          opts.withDefaults(),
		api:           api,
		store:         NewStore(),
		oplog:         NewOpLog(),
		snaps:         NewPersistence(api),
		snapshotDirty: make(chan struct{}, 1),
		scheduler:     scheduler,
	}
	e.guard = NewDeletionGuard(e.opts.GuardTTL, func(id string) {
		log.Printf("🕐 [CACHE] Deletion guard expired for %s", id)
	})
	e.fetches = newFetcher(
		func(ctx context.Context) ([]*models.Mapping, error) {
			return e.api.ListMappings(ctx)
		},
		func() context.Context { return e.runCtx },
	)
	return e, nil
}

// Start performs the initial load and begins the background jobs: the
// snapshot push worker, the expired-operation sweep, and periodic snapshot
// validation.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already started")
	}
	e.runCtx, e.cancel = context.WithCancel(context.Background())

	e.wg.Add(1)
	go e.snapshotWorker()

	if _, err := e.scheduler.NewJob(
		gocron.DurationJob(e.opts.SweepInterval),
		gocron.NewTask(e.sweepExpired),
		gocron.WithName("oplog-sweep"),
	); err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}
	if err := e.registerValidationJob(e.opts.ValidationCron); err != nil {
		return err
	}
	e.scheduler.Start()

	e.initialLoad(ctx)
	log.Printf("✅ [CACHE] Sync engine started (source: %s, %d mappings)", e.Source(), e.store.Count())
	return nil
}

// registerValidationJob installs the validation schedule, replacing any
// previous one. An empty or invalid cron expression falls back to the
// interval timer.
func (e *Engine) registerValidationJob(cronExpr string) error {
	var definition gocron.JobDefinition
	if cronExpr != "" {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			log.Printf("⚠️  [CACHE] Invalid validation cron %q, using %s interval: %v",
				cronExpr, e.opts.ValidationInterval, err)
			cronExpr = ""
		}
	}
	if cronExpr != "" {
		definition = gocron.CronJob(cronExpr, false)
	} else {
		definition = gocron.DurationJob(e.opts.ValidationInterval)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.validationJob != nil {
		if err := e.scheduler.RemoveJob(e.validationJob.ID()); err != nil {
			log.Printf("⚠️  [CACHE] Failed to remove previous validation job: %v", err)
		}
		e.validationJob = nil
	}
	job, err := e.scheduler.NewJob(
		definition,
		gocron.NewTask(e.validate),
		gocron.WithName("snapshot-validation"),
	)
	if err != nil {
		return fmt.Errorf("failed to register validation job: %w", err)
	}
	e.validationJob = job
	return nil
}

// SetRecorder wires the metrics recorder (used for deferred initialization;
// must be called before Start).
func (e *Engine) SetRecorder(r Recorder) {
	e.opts.Recorder = r
}

// SetNotifier wires the change event sink (used for deferred initialization;
// must be called before Start).
func (e *Engine) SetNotifier(n Notifier) {
	e.opts.Notifier = n
}

// UpdateValidationSchedule swaps the validation job's schedule at runtime.
// Used when the settings file changes.
func (e *Engine) UpdateValidationSchedule(cronExpr string) error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	if cronExpr != "" {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
		}
	}
	log.Printf("📅 [CACHE] Updating validation schedule (cron: %q)", cronExpr)
	return e.registerValidationJob(cronExpr)
}

// Stop shuts the background jobs down and flushes one final snapshot.
func (e *Engine) Stop() error {
	if !e.started.CompareAndSwap(true, false) {
		return nil
	}
	log.Printf("⏹️  [CACHE] Stopping sync engine...")

	e.mu.Lock()
	if e.rebuildTimer != nil {
		e.rebuildTimer.Stop()
		e.rebuildTimer = nil
	}
	e.mu.Unlock()

	err := e.scheduler.Shutdown()
	e.cancel()
	e.wg.Wait()

	// The worker is gone, so a direct push here cannot race another write.
	if e.store.Count() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.pushSnapshot(ctx)
	}
	return err
}

// snapshotWorker serializes carrier writes. Rapid mutations collapse into
// the single buffered dirty signal, so at most one push runs at a time and
// a push always reflects the store state at execution, never a stale copy.
func (e *Engine) snapshotWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-e.snapshotDirty:
			ctx, cancel := context.WithTimeout(e.runCtx, 30*time.Second)
			e.pushSnapshot(ctx)
			cancel()
		}
	}
}

// markSnapshotDirty queues a snapshot push without blocking the caller.
func (e *Engine) markSnapshotDirty() {
	select {
	case e.snapshotDirty <- struct{}{}:
	default:
	}
}

func (e *Engine) pushSnapshot(ctx context.Context) {
	slims := e.currentSlims()
	env := models.NewSnapshotEnvelope(e.snaps.NextVersion(), slims)

	err := e.snaps.Upsert(ctx, env)
	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordSnapshotPush(err)
	}
	if err != nil {
		// Snapshot loss is never fatal; the next validation pass self-heals.
		log.Printf("⚠️  [SNAPSHOT] Push failed (version %d): %v", env.Version, err)
		return
	}

	e.mu.Lock()
	e.lastSnapshotAt = time.Now()
	e.mu.Unlock()
}

func (e *Engine) currentSlims() []models.SlimMapping {
	values := e.store.Values()
	slims := make([]models.SlimMapping, 0, len(values))
	for _, m := range values {
		slims = append(slims, m.Slim())
	}
	return slims
}

// GetAll returns read-only clones of the displayed mapping set, reseeding
// from the last known-good list if the store was emptied across a reload
// boundary.
func (e *Engine) GetAll() []*models.Mapping {
	e.maybeReseed()

	values := e.store.Values()
	out := make([]*models.Mapping, 0, len(values))
	for _, m := range values {
		if e.guardedAny(models.ExtractIdentifiers(m).Aliases) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

// GetByID looks a mapping up by any alias.
func (e *Engine) GetByID(id string) (*models.Mapping, bool) {
	e.maybeReseed()

	if e.guard.Contains(id) {
		return nil, false
	}
	m, ok := e.store.Get(id)
	if !ok {
		return nil, false
	}
	if e.guardedAny(models.ExtractIdentifiers(m).Aliases) {
		return nil, false
	}
	return m.Clone(), true
}

func (e *Engine) guardedAny(aliases []string) bool {
	for _, alias := range aliases {
		if e.guard.Contains(alias) {
			return true
		}
	}
	return false
}

func (e *Engine) maybeReseed() {
	if e.store.Count() > 0 {
		return
	}
	e.mu.Lock()
	lastGood := e.lastGood
	e.mu.Unlock()
	if len(lastGood) == 0 {
		return
	}
	if e.store.SeedFrom(lastGood) {
		log.Printf("🔁 [CACHE] Reseeded %d mappings from last known-good list", e.store.Count())
	}
}

// Source reports where the displayed set came from.
func (e *Engine) Source() models.CacheSource {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == "" {
		return models.SourceFallback
	}
	return e.source
}

// Status summarizes the engine state for the status endpoint and gauges.
func (e *Engine) Status() models.CacheStatus {
	e.mu.Lock()
	source := e.source
	lastSync := e.lastSync
	lastRebuild := e.lastRebuild
	lastSnapshotAt := e.lastSnapshotAt
	healthy := e.remoteHealthy
	e.mu.Unlock()

	if source == "" {
		source = models.SourceFallback
	}
	status := models.CacheStatus{
		Source:          source,
		Count:           e.store.Count(),
		PendingOps:      e.oplog.Len(),
		PendingDeletes:  e.guard.Len(),
		SnapshotVersion: e.snaps.version.Load(),
		LastSync:        lastSync,
		LastRebuild:     lastRebuild,
		RemoteHealthy:   healthy,
	}
	if !lastSnapshotAt.IsZero() {
		status.SnapshotAge = time.Since(lastSnapshotAt).Round(time.Second).String()
	}
	return status
}

func (e *Engine) notify(kind, mappingID string) {
	if e.opts.Notifier == nil {
		return
	}
	e.opts.Notifier.BroadcastChange(models.ChangeEvent{
		Kind:      kind,
		MappingID: mappingID,
		Source:    e.Source(),
		Count:     e.store.Count(),
		Timestamp: time.Now(),
	})
}
