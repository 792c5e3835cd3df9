package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/blobstore"
	"github.com/dmitrijs2005/pantrysync/internal/client/cache"
	"github.com/dmitrijs2005/pantrysync/internal/client/cachestore"
	"github.com/dmitrijs2005/pantrysync/internal/client/client"
	"github.com/dmitrijs2005/pantrysync/internal/client/dedup"
	"github.com/dmitrijs2005/pantrysync/internal/client/events"
	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/client/queue"
	"github.com/dmitrijs2005/pantrysync/internal/logging"
	"github.com/stretchr/testify/require"
)

/*************
 * Fake remote records store
 *************/

type fakeRemote struct {
	mu sync.Mutex

	rows      map[string]models.Record
	serverNow time.Time

	insertErr error
	updateErr error
	deleteErr error
	listErr   error
	getErr    error
	pingErr   error

	inserts int
	updates int
	deletes int
}

var _ client.RecordsAPI = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		rows:      map[string]models.Record{},
		serverNow: time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRemote) set(fn func(f *fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeRemote) row(id string) (models.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	return r, ok
}

func (f *fakeRemote) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRemote) Insert(_ context.Context, r models.Record) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return models.Record{}, f.insertErr
	}
	if _, ok := f.rows[r.ID]; ok {
		return models.Record{}, client.ErrAlreadyExists
	}
	r.UpdatedAt = f.serverNow
	f.rows[r.ID] = r
	return r, nil
}

func (f *fakeRemote) Update(_ context.Context, id string, p models.Patch) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return models.Record{}, f.updateErr
	}
	r, ok := f.rows[id]
	if !ok {
		return models.Record{}, client.ErrNotFound
	}
	r = p.Apply(r, f.serverNow)
	f.rows[id] = r
	return r, nil
}

func (f *fakeRemote) Delete(_ context.Context, id string, hard bool, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	r, ok := f.rows[id]
	if !ok {
		return client.ErrNotFound
	}
	if hard {
		delete(f.rows, id)
		return nil
	}
	r.DeletedAt = &at
	f.rows[id] = r
	return nil
}

func (f *fakeRemote) Get(_ context.Context, id string) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return models.Record{}, f.getErr
	}
	r, ok := f.rows[id]
	if !ok || r.Deleted() {
		return models.Record{}, client.ErrNotFound
	}
	return r, nil
}

func (f *fakeRemote) List(_ context.Context, lf client.ListFilter) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	q := cache.ListQuery{UserID: lf.UserID, GroupID: lf.GroupID, Status: lf.Status, Location: lf.Location}
	var out []models.Record
	for _, r := range f.rows {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRemote) Close() error { return nil }

/*************
 * Fake binary store
 *************/

type fakeBinary struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	uploads   int
	signs     int
}

var _ client.BinaryStore = (*fakeBinary)(nil)

func newFakeBinary() *fakeBinary { return &fakeBinary{objects: map[string][]byte{}} }

func (f *fakeBinary) Upload(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBinary) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBinary) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signs++
	if _, ok := f.objects[key]; !ok {
		return "", client.ErrObjectNotFound
	}
	return "https://cdn.local/" + key, nil
}

func (f *fakeBinary) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

/*************
 * In-memory snapshot store
 *************/

type memSnapshotStore struct {
	mu       sync.Mutex
	snap     *cachestore.Snapshot
	failSave bool
}

func (s *memSnapshotStore) Save(_ context.Context, snap cachestore.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return cachestore.ErrSnapshotCorrupt
	}
	s.snap = &snap
	return nil
}

func (s *memSnapshotStore) Load(context.Context) (cachestore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return cachestore.Snapshot{}, cachestore.ErrSnapshotNotFound
	}
	return *s.snap, nil
}

func (s *memSnapshotStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	return nil
}

/*************
 * Test environment
 *************/

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	cache     *cache.Cache
	queue     *queue.Queue
	blobs     *blobstore.SQLiteStore
	remote    *fakeRemote
	binary    *fakeBinary
	dedup     *dedup.Tracker
	bus       *events.Bus
	store     *memSnapshotStore
	persister *cachestore.Persister
	clock     *testClock
	svc       *RecordService

	mu     sync.Mutex
	events []events.Event
}

type envOptions struct {
	store          *memSnapshotStore
	blobs          *blobstore.SQLiteStore
	remote         *fakeRemote
	binary         *fakeBinary
	blobRetryLimit int
}

var personal = cache.ListQuery{UserID: "u1"}

func newBlobStore(t *testing.T) *blobstore.SQLiteStore {
	t.Helper()
	db, err := blobstore.Open(context.Background(), filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return blobstore.NewSQLiteStore(db)
}

func newEnv(t *testing.T, o envOptions) *env {
	t.Helper()
	if o.store == nil {
		o.store = &memSnapshotStore{}
	}
	if o.blobs == nil {
		o.blobs = newBlobStore(t)
	}
	if o.remote == nil {
		o.remote = newFakeRemote()
	}
	if o.binary == nil {
		o.binary = newFakeBinary()
	}
	if o.blobRetryLimit == 0 {
		o.blobRetryLimit = 3
	}

	log := logging.NewNopLogger()
	e := &env{
		cache:  cache.New(),
		blobs:  o.blobs,
		remote: o.remote,
		binary: o.binary,
		dedup:  dedup.New(5 * time.Second),
		bus:    events.NewBus(log),
		store:  o.store,
		clock:  &testClock{now: time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC)},
	}
	e.persister = cachestore.NewPersister(e.store, func() (cachestore.Snapshot, error) {
		views, err := e.cache.Export()
		if err != nil {
			return cachestore.Snapshot{}, err
		}
		return cachestore.Snapshot{Queries: views, Mutations: e.queue.Pending()}, nil
	}, time.Hour, log)
	e.queue = queue.New(e.persister, log, queue.Options{MaxAttempts: 5, Classify: Classify})
	e.cache.Subscribe(func(cache.Change) { e.persister.Schedule() })
	e.bus.OnAny(func(ev events.Event) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.events = append(e.events, ev)
	})

	e.svc = NewRecordService(Deps{
		Cache:          e.cache,
		Queue:          e.queue,
		Blobs:          e.blobs,
		Remote:         e.remote,
		Binary:         e.binary,
		Dedup:          e.dedup,
		Events:         e.bus,
		Log:            log,
		BlobRetryLimit: o.blobRetryLimit,
		Now:            e.clock.Now,
	})
	e.svc.RegisterHandlers(e.queue)

	t.Cleanup(func() {
		e.queue.Pause()
		_ = e.queue.Wait(context.Background())
		_ = e.persister.Close(context.Background())
	})
	return e
}

// replay resumes the queue and waits until every drain is idle.
func (e *env) replay(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.queue.Resume(ctx))
	require.NoError(t, e.queue.Wait(ctx))
	e.queue.Pause()
}

func (e *env) eventsOf(tp events.Type) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Event
	for _, ev := range e.events {
		if ev.Type == tp {
			out = append(out, ev)
		}
	}
	return out
}

func milkInput() models.NewRecordInput {
	exp := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	return models.NewRecordInput{Name: "Milk", ExpiresAt: &exp, Quantity: 1, Unit: "l", Location: models.LocationFridge, UserID: "u1"}
}

func listIDs(t *testing.T, c *cache.Cache, q cache.ListQuery) []string {
	t.Helper()
	v, ok := c.List(q)
	require.True(t, ok, "list %s not cached", q.Key())
	ids := make([]string, 0, len(v.Records))
	for _, r := range v.Records {
		ids = append(ids, r.ID)
	}
	return ids
}
