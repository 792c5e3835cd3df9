package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/client"
	"github.com/dmitrijs2005/pantrysync/internal/client/config"
	"github.com/dmitrijs2005/pantrysync/internal/client/events"
	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/client/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRemote struct {
	mu      sync.Mutex
	rows    map[string]models.Record
	offline bool
}

func newMemRemote() *memRemote { return &memRemote{rows: map[string]models.Record{}} }

func (m *memRemote) setOffline(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = v
}

func (m *memRemote) check() error {
	if m.offline {
		return client.ErrUnavailable
	}
	return nil
}

func (m *memRemote) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check()
}

func (m *memRemote) Insert(_ context.Context, r models.Record) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Record{}, err
	}
	m.rows[r.ID] = r
	return r, nil
}

func (m *memRemote) Update(_ context.Context, id string, p models.Patch) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Record{}, err
	}
	r, ok := m.rows[id]
	if !ok {
		return models.Record{}, client.ErrNotFound
	}
	r = p.Apply(r, time.Now().UTC())
	m.rows[id] = r
	return r, nil
}

func (m *memRemote) Delete(_ context.Context, id string, _ bool, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	delete(m.rows, id)
	return nil
}

func (m *memRemote) Get(_ context.Context, id string) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Record{}, err
	}
	r, ok := m.rows[id]
	if !ok {
		return models.Record{}, client.ErrNotFound
	}
	return r, nil
}

func (m *memRemote) List(_ context.Context, f client.ListFilter) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []models.Record
	for _, r := range m.rows {
		if r.UserID == f.UserID && r.GroupID == f.GroupID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRemote) row(id string) (models.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r, ok
}

func (m *memRemote) Close() error { return nil }

type memBinary struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBinary) Upload(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *memBinary) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBinary) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://img.local/" + key, nil
}

// idleTransport accepts every connect and never delivers an event.
type idleTransport struct {
	mu     sync.Mutex
	scopes []realtime.Scope
}

type idleStream struct{}

func (idleStream) Next(ctx context.Context) (realtime.Event, error) {
	<-ctx.Done()
	return realtime.Event{}, ctx.Err()
}

func (idleStream) Close() error { return nil }

func (t *idleTransport) Connect(_ context.Context, s realtime.Scope) (realtime.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scopes = append(t.scopes, s)
	return idleStream{}, nil
}

func (t *idleTransport) connects() []realtime.Scope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]realtime.Scope(nil), t.scopes...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	cfg.UserID = "u1"
	cfg.OnlineCheckInterval = 10 * time.Millisecond
	cfg.PersistDebounce = 10 * time.Millisecond
	cfg.InvalidateInterval = 10 * time.Millisecond
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, remote *memRemote, tr *idleTransport) *App {
	t.Helper()
	a := New(cfg, Deps{Remote: remote, Binary: &memBinary{objects: map[string][]byte{}}, Transport: tr})
	require.NoError(t, a.Init(context.Background()))
	return a
}

func milkInput() models.NewRecordInput {
	exp := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	return models.NewRecordInput{Name: "Milk", ExpiresAt: &exp, Quantity: 1, Unit: "l", Location: models.LocationFridge, UserID: "u1"}
}

func TestApp_PendingWorkSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	remote := newMemRemote()
	remote.setOffline(true)

	first := newTestApp(t, cfg, remote, &idleTransport{})
	rec, err := first.Records().Create(ctx, milkInput())
	require.NoError(t, err)
	require.Equal(t, 1, first.Queue().Len())
	require.NoError(t, first.Dispose(ctx))
	require.NoError(t, first.Dispose(ctx), "dispose is idempotent")

	second := newTestApp(t, cfg, remote, &idleTransport{})
	defer second.Dispose(ctx)

	pending := second.Queue().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].TargetID)
	assert.Equal(t, models.MutationCreate, pending[0].Kind)

	v, err := second.Records().List(ctx, second.Query())
	require.NoError(t, err)
	require.Len(t, v.Records, 1)
	assert.Equal(t, "Milk", v.Records[0].Name)
}

func TestApp_RunReplaysOnceOnline(t *testing.T) {
	cfg := testConfig(t)
	remote := newMemRemote()
	remote.setOffline(true)
	tr := &idleTransport{}
	a := newTestApp(t, cfg, remote, tr)

	var mu sync.Mutex
	var counts []int
	a.Events().On(events.PendingCount, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		counts = append(counts, e.Count)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	rec, err := a.Records().Create(ctx, milkInput())
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, a.Queue().Len(), "nothing is replayed while offline")

	remote.setOffline(false)
	require.Eventually(t, func() bool { return a.Queue().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	_, ok := remote.row(rec.ID)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(counts) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{1, 0}, counts)
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, a.Dispose(context.Background()))
	assert.NotEmpty(t, tr.connects())
}

func TestApp_SetActiveGroup(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, newMemRemote(), &idleTransport{})
	defer a.Dispose(context.Background())

	var got []events.Event
	a.Events().On(events.ScopeChanged, func(e events.Event) { got = append(got, e) })

	a.SetActiveGroup(context.Background(), "g1")
	a.SetActiveGroup(context.Background(), "g1")
	assert.Equal(t, "g1", a.Query().GroupID)
	assert.Equal(t, realtime.Scope{UserID: "u1", GroupID: "g1"}, a.Scope())
	require.Len(t, got, 1)
	assert.Equal(t, "Showing records of group g1", got[0].Message)

	a.SetActiveGroup(context.Background(), "")
	require.Len(t, got, 2)
	assert.Equal(t, "Showing personal records", got[1].Message)
}

func TestApp_InitCollectsOrphanImages(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.OrphanBlobGrace = time.Minute

	first := newTestApp(t, cfg, newMemRemote(), &idleTransport{})
	_, err := first.Records().StageImage(ctx, []byte("jpeg"), "image/jpeg", "lost.jpg")
	require.NoError(t, err)
	require.NoError(t, first.Dispose(ctx))

	later := New(cfg, Deps{
		Remote:    newMemRemote(),
		Binary:    &memBinary{objects: map[string][]byte{}},
		Transport: &idleTransport{},
		Now:       func() time.Time { return time.Now().Add(time.Hour) },
	})
	require.NoError(t, later.Init(ctx))
	defer later.Dispose(ctx)

	left, err := later.blobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestApp_SyncReportsMode(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	remote.setOffline(true)
	a := newTestApp(t, testConfig(t), remote, &idleTransport{})
	defer a.Dispose(ctx)

	mode, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "offline", string(mode))

	remote.setOffline(false)
	mode, err = a.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "online", string(mode))
}
