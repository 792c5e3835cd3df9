// Package dedup remembers which record changes this client made recently so
// the realtime feed can recognise their echoes.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

// Kind is the change type tracked. Status changes are tracked as updates
// because that is how they come back from the feed.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// KindFor maps a mutation kind to the tracked change kind.
func KindFor(k models.MutationKind) Kind {
	switch k {
	case models.MutationCreate:
		return KindInsert
	case models.MutationDelete:
		return KindDelete
	default:
		return KindUpdate
	}
}

type Tracker struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func New(window time.Duration) *Tracker {
	return &Tracker{window: window, now: time.Now, entries: make(map[string]time.Time)}
}

func key(kind Kind, id string) string { return string(kind) + ":" + id }

// Track records a local change of kind to id.
func (t *Tracker) Track(kind Kind, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key(kind, id)] = t.now()
}

// IsEcho reports whether a change of kind to id was tracked within the
// window. Expired entries are dropped on lookup.
func (t *Tracker) IsEcho(kind Kind, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(kind, id)
	at, ok := t.entries[k]
	if !ok {
		return false
	}
	if t.now().Sub(at) > t.window {
		delete(t.entries, k)
		return false
	}
	return true
}

// Sweep drops expired entries and returns how many it removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for k, at := range t.entries {
		if now.Sub(at) > t.window {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Run sweeps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Sweep()
		}
	}
}
