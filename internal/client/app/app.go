// Package app assembles the sync engine: durable stores, the cache, the
// mutation queue with its handlers, connectivity and the realtime feed.
//
// Typical lifecycle:
//
//	a := app.New(cfg, app.Deps{})
//	if err := a.Init(ctx); err != nil { ... }
//	go a.Run(ctx)
//	...
//	a.Dispose(ctx)
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/blobstore"
	"github.com/dmitrijs2005/pantrysync/internal/client/cache"
	"github.com/dmitrijs2005/pantrysync/internal/client/cachestore"
	"github.com/dmitrijs2005/pantrysync/internal/client/client"
	"github.com/dmitrijs2005/pantrysync/internal/client/config"
	"github.com/dmitrijs2005/pantrysync/internal/client/dedup"
	"github.com/dmitrijs2005/pantrysync/internal/client/events"
	"github.com/dmitrijs2005/pantrysync/internal/client/metrics"
	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/client/queue"
	"github.com/dmitrijs2005/pantrysync/internal/client/realtime"
	"github.com/dmitrijs2005/pantrysync/internal/client/services"
	"github.com/dmitrijs2005/pantrysync/internal/filex"
	"github.com/dmitrijs2005/pantrysync/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Deps overrides the remote collaborators. Nil fields are built from the
// configuration.
type Deps struct {
	Remote     client.RecordsAPI
	Binary     client.BinaryStore
	Transport  realtime.Transport
	Registerer prometheus.Registerer
	Log        logging.Logger
	Now        func() time.Time
}

type App struct {
	cfg  *config.Config
	deps Deps
	log  logging.Logger
	now  func() time.Time

	blobDB    *sql.DB
	blobs     *blobstore.SQLiteStore
	store     *cachestore.BadgerStore
	persister *cachestore.Persister

	cache   *cache.Cache
	queue   *queue.Queue
	dedup   *dedup.Tracker
	bus     *events.Bus
	metrics *metrics.Metrics

	remote client.RecordsAPI
	binary client.BinaryStore

	records    *services.RecordService
	images     *services.ImageResolver
	conn       *services.ConnectivityWatcher
	sub        *realtime.Subscription
	reconciler *realtime.Reconciler

	mu       sync.Mutex
	scope    realtime.Scope
	disposed bool
	unsubs   []func()
}

func New(cfg *config.Config, deps Deps) *App {
	if deps.Log == nil {
		deps.Log = logging.NewNopLogger()
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &App{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Log.With("module", "app"),
		now:   deps.Now,
		scope: realtime.Scope{UserID: cfg.UserID, GroupID: cfg.GroupID},
	}
}

// Init opens the stores, restores the last snapshot and wires every
// component. Nothing talks to the network until Run.
func (a *App) Init(ctx context.Context) error {
	if err := a.openStores(ctx); err != nil {
		return err
	}
	if err := a.openRemotes(ctx); err != nil {
		return errors.Join(err, a.closeStores())
	}

	a.bus = events.NewBus(a.deps.Log)
	a.metrics = metrics.New(a.deps.Registerer)
	a.cache = cache.New()
	a.dedup = dedup.New(a.cfg.DedupWindow)
	a.persister = cachestore.NewPersister(a.store, a.snapshot, a.cfg.PersistDebounce, a.deps.Log)
	a.queue = queue.New(a.persister, a.deps.Log, queue.Options{
		MaxAttempts: a.cfg.MaxAttempts,
		Classify:    services.Classify,
		Observer:    a.metrics,
	})

	a.records = services.NewRecordService(services.Deps{
		Cache:          a.cache,
		Queue:          a.queue,
		Blobs:          a.blobs,
		Remote:         a.remote,
		Binary:         a.binary,
		Dedup:          a.dedup,
		Events:         a.bus,
		Log:            a.deps.Log,
		BlobRetryLimit: a.cfg.BlobRetryLimit,
		Now:            a.now,
	})
	a.records.RegisterHandlers(a.queue)

	a.restore(ctx)

	a.unsubs = append(a.unsubs,
		a.cache.Subscribe(func(cache.Change) { a.persister.Schedule() }),
		a.queue.OnPendingChange(func(n int) {
			a.bus.Emit(events.Event{Type: events.PendingCount, Count: n})
		}),
	)

	a.collectOrphans(ctx)

	a.images = services.NewImageResolver(a.blobs, a.binary, a.cfg.SignedURLTTL, a.deps.Log)
	a.conn = services.NewConnectivityWatcher(a.remote, a.queue, a.bus, a.deps.Log, a.cfg.OnlineCheckInterval)

	scope := a.Scope()
	a.reconciler = realtime.NewReconciler(a.cache, a.dedup, a.bus, a.deps.Log, scope, a.refreshStale, a.cfg.InvalidateInterval)
	a.reconciler.SetObserver(a.metrics)
	a.sub = realtime.NewSubscription(a.transport(), a.cache, a.bus, a.deps.Log, scope, realtime.Options{
		ReconnectBaseDelay:   a.cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    a.cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: a.cfg.MaxReconnectAttempts,
		Observer:             a.metrics,
		OnConnected:          a.reconciler.Refresh,
	})
	a.reconciler.Register(a.sub)

	// A feed that gave up gets another chance whenever the remote store
	// becomes reachable again.
	a.conn.OnOnline(func() {
		if a.sub.State() == realtime.StateError {
			a.sub.Reconnect()
		}
	})
	a.conn.OnOnline(a.reconciler.Refresh)

	a.log.Info(ctx, "initialized", "data_dir", a.cfg.DataDir, "pending", a.queue.Len())
	return nil
}

func (a *App) openStores(ctx context.Context) error {
	blobDir, err := filex.EnsureSubDir(a.cfg.DataDir, "blobs")
	if err != nil {
		return fmt.Errorf("blob directory: %w", err)
	}
	cacheDir, err := filex.EnsureSubDir(a.cfg.DataDir, "cache")
	if err != nil {
		return fmt.Errorf("cache directory: %w", err)
	}

	a.blobDB, err = blobstore.Open(ctx, filepath.Join(blobDir, "blobs.db"))
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	a.blobs = blobstore.NewSQLiteStore(a.blobDB)

	bc := cachestore.DefaultConfig(cacheDir)
	bc.Logger = a.deps.Log
	a.store, err = cachestore.Open(bc)
	if err != nil {
		_ = a.blobDB.Close()
		return fmt.Errorf("open cache store: %w", err)
	}
	return nil
}

func (a *App) closeStores() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.blobDB != nil {
		errs = append(errs, a.blobDB.Close())
	}
	return errors.Join(errs...)
}

func (a *App) openRemotes(ctx context.Context) error {
	a.remote = a.deps.Remote
	if a.remote == nil {
		r, err := client.NewGRPCRecords(a.cfg.ServerEndpointAddr, a.cfg.AccessToken)
		if err != nil {
			return fmt.Errorf("records client: %w", err)
		}
		a.remote = r
	}

	a.binary = a.deps.Binary
	if a.binary == nil {
		b, err := client.NewS3BinaryStore(ctx, client.S3Config{
			Bucket:       a.cfg.S3Bucket,
			Region:       a.cfg.S3Region,
			BaseEndpoint: a.cfg.S3BaseEndpoint,
			AccessKey:    a.cfg.S3AccessKey,
			SecretKey:    a.cfg.S3SecretKey,
		})
		if err != nil {
			_ = a.remote.Close()
			return fmt.Errorf("image store: %w", err)
		}
		a.binary = b
	}
	return nil
}

func (a *App) transport() realtime.Transport {
	if a.deps.Transport != nil {
		return a.deps.Transport
	}
	return realtime.NewWebsocketTransport(a.cfg.RealtimeURL, func() string { return a.cfg.AccessToken }, a.deps.Log)
}

// snapshot is the persister's source: every cached view plus the queue.
func (a *App) snapshot() (cachestore.Snapshot, error) {
	views, err := a.cache.Export()
	if err != nil {
		return cachestore.Snapshot{}, err
	}
	return cachestore.Snapshot{Queries: views, Mutations: a.queue.Pending()}, nil
}

// restore loads the last snapshot. A missing snapshot starts fresh; an
// unreadable one is dropped so the next write replaces it.
func (a *App) restore(ctx context.Context) {
	snap, err := a.store.Load(ctx)
	switch {
	case errors.Is(err, cachestore.ErrSnapshotNotFound):
		a.log.Debug(ctx, "no snapshot, starting fresh")
		return
	case err != nil:
		a.log.Error(ctx, "snapshot unreadable, starting fresh", "error", err)
		if cerr := a.store.Clear(ctx); cerr != nil {
			a.log.Warn(ctx, "failed to clear snapshot", "error", cerr)
		}
		a.bus.Emit(events.Event{Type: events.SnapshotRestore, Message: "Saved data could not be read and was reset", Err: err})
		return
	}

	if err := a.cache.Import(snap.Queries); err != nil {
		a.log.Error(ctx, "cached views unreadable, dropping them", "error", err)
		a.cache.Clear()
	}
	a.queue.Restore(snap.Mutations)
	a.log.Info(ctx, "snapshot restored", "saved_at", snap.SavedAt, "views", len(snap.Queries), "pending", len(snap.Mutations))
	a.bus.Emit(events.Event{Type: events.SnapshotRestore, Count: len(snap.Mutations)})
}

func (a *App) collectOrphans(ctx context.Context) {
	n, err := services.CollectOrphanBlobs(ctx, a.blobs, a.queue.Pending(), a.cfg.OrphanBlobGrace, a.now(), a.deps.Log)
	if err != nil {
		a.log.Warn(ctx, "orphan image cleanup failed", "error", err)
		return
	}
	if n > 0 {
		a.bus.Emit(events.Event{Type: events.BlobsCollected, Count: n})
	}
}

func (a *App) refreshStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.records.RefreshStale(ctx); err != nil {
		if errors.Is(err, client.ErrUnavailable) {
			a.log.Debug(ctx, "refresh postponed, remote unavailable")
			return
		}
		a.log.Warn(ctx, "refresh of stale views failed", "error", err)
	}
}

// Run drives connectivity, dedup expiry and the realtime feed until ctx is
// done.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.conn.Run(gctx) })
	g.Go(func() error { return a.dedup.Run(gctx, a.cfg.DedupSweepInterval) })
	g.Go(func() error { return a.sub.Run(gctx) })
	return g.Wait()
}

// Sync checks connectivity now and, when online, refetches stale views.
// It reports the resulting mode.
func (a *App) Sync(ctx context.Context) (services.Mode, error) {
	mode := a.conn.Check(ctx)
	if mode != services.ModeOnline {
		return mode, nil
	}
	a.cache.InvalidateAll()
	return mode, a.records.RefreshStale(ctx)
}

func (a *App) Scope() realtime.Scope {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scope
}

// Query is the list query of the active scope.
func (a *App) Query() cache.ListQuery {
	s := a.Scope()
	return cache.ListQuery{UserID: s.UserID, GroupID: s.GroupID}
}

// SetActiveGroup switches between personal records (empty id) and a
// group's shared records. The feed is resubscribed and lists refetched.
func (a *App) SetActiveGroup(ctx context.Context, groupID string) {
	a.mu.Lock()
	if a.scope.GroupID == groupID {
		a.mu.Unlock()
		return
	}
	a.scope.GroupID = groupID
	scope := a.scope
	a.mu.Unlock()

	a.reconciler.SetScope(scope)
	a.sub.SetScope(scope)
	a.cache.InvalidateLists()
	a.reconciler.Refresh()

	msg := "Showing personal records"
	if groupID != "" {
		msg = "Showing records of group " + groupID
	}
	a.log.Info(ctx, "scope changed", "group", groupID)
	a.bus.Emit(events.Event{Type: events.ScopeChanged, State: groupID, Message: msg})
}

func (a *App) Records() *services.RecordService { return a.records }
func (a *App) Images() *services.ImageResolver { return a.images }
func (a *App) Events() *events.Bus { return a.bus }
func (a *App) Queue() *queue.Queue { return a.queue }
func (a *App) Connectivity() *services.ConnectivityWatcher { return a.conn }
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Mode is the last observed connectivity mode.
func (a *App) Mode() services.Mode { return a.conn.Mode() }

func (a *App) Pending() []models.Mutation { return a.queue.Pending() }

// Dispose stops background work, writes the final snapshot and closes the
// stores. Cancel the context passed to Run first.
func (a *App) Dispose(ctx context.Context) error {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return nil
	}
	a.disposed = true
	a.mu.Unlock()

	a.reconciler.Stop()
	a.queue.Pause()
	var errs []error
	if err := a.queue.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for replay: %w", err))
	}
	for _, fn := range a.unsubs {
		fn()
	}
	if err := a.persister.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final snapshot: %w", err))
	}
	if err := a.persister.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.remote.Close(), a.closeStores())
	return errors.Join(errs...)
}
