package cachestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/logging"
)

// Source produces the snapshot to persist. It is called under the write
// lock, so the value written is always the latest state.
type Source func() (Snapshot, error)

// Persister debounces snapshot writes.
type Persister struct {
	store    Store
	source   Source
	debounce time.Duration
	log      logging.Logger
	now      func() time.Time

	writeMu sync.Mutex

	mu     sync.Mutex
	timer  *time.Timer
	dirty  bool
	closed bool
}

func NewPersister(store Store, source Source, debounce time.Duration, log logging.Logger) *Persister {
	return &Persister{
		store:    store,
		source:   source,
		debounce: debounce,
		log:      log.With("module", "persister"),
		now:      time.Now,
	}
}

// Schedule requests a write after the debounce interval. Calls inside the
// interval push the write back.
func (p *Persister) Schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.dirty = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.debounce, func() {
		if err := p.Flush(context.Background()); err != nil {
			p.log.Error(context.Background(), "debounced snapshot write failed", "error", err)
		}
	})
}

// Flush cancels any pending debounce and writes immediately.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.dirty = false
	p.mu.Unlock()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	snap, err := p.source()
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	snap.Version = SnapshotVersion
	snap.SavedAt = p.now().UTC()

	if err := p.store.Save(ctx, snap); err != nil {
		p.mu.Lock()
		p.dirty = true
		p.mu.Unlock()
		return err
	}
	return nil
}

// Pending reports whether a scheduled write has not happened yet.
func (p *Persister) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// Close flushes outstanding work and disables further scheduling.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	dirty := p.dirty
	p.mu.Unlock()

	if !dirty {
		return nil
	}
	return p.Flush(ctx)
}
