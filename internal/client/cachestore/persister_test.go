package cachestore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	mu    sync.Mutex
	saves []Snapshot
	err   error
}

func (s *countingStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves = append(s.saves, snap)
	return nil
}

func (s *countingStore) Load(context.Context) (Snapshot, error) { return Snapshot{}, ErrSnapshotNotFound }
func (s *countingStore) Clear(context.Context) error            { return nil }

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func TestPersister_DebounceCoalesces(t *testing.T) {
	store := &countingStore{}
	var builds atomic.Int32
	p := NewPersister(store, func() (Snapshot, error) {
		builds.Add(1)
		return Snapshot{}, nil
	}, 30*time.Millisecond, logging.NewNopLogger())

	for i := 0; i < 10; i++ {
		p.Schedule()
	}
	assert.True(t, p.Pending())

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, store.count())
	assert.Equal(t, int32(1), builds.Load())
	assert.False(t, p.Pending())
	assert.Equal(t, SnapshotVersion, store.saves[0].Version)
	assert.False(t, store.saves[0].SavedAt.IsZero())
}

func TestPersister_FlushWritesImmediately(t *testing.T) {
	store := &countingStore{}
	p := NewPersister(store, func() (Snapshot, error) { return Snapshot{}, nil }, time.Hour, logging.NewNopLogger())

	p.Schedule()
	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, 1, store.count())
	assert.False(t, p.Pending())
}

func TestPersister_FailedFlushStaysDirty(t *testing.T) {
	store := &countingStore{err: errors.New("disk full")}
	p := NewPersister(store, func() (Snapshot, error) { return Snapshot{}, nil }, time.Hour, logging.NewNopLogger())

	require.Error(t, p.Flush(context.Background()))
	assert.True(t, p.Pending())

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, store.count())

	p.Schedule()
	assert.False(t, p.Pending(), "closed persister ignores schedules")
}

func TestPersister_SourceError(t *testing.T) {
	store := &countingStore{}
	p := NewPersister(store, func() (Snapshot, error) { return Snapshot{}, errors.New("boom") }, time.Hour, logging.NewNopLogger())

	require.ErrorContains(t, p.Flush(context.Background()), "boom")
	assert.Zero(t, store.count())
}

func TestPersister_CloseWithoutChanges(t *testing.T) {
	store := &countingStore{}
	p := NewPersister(store, func() (Snapshot, error) { return Snapshot{}, nil }, time.Hour, logging.NewNopLogger())

	require.NoError(t, p.Close(context.Background()))
	assert.Zero(t, store.count())
}
