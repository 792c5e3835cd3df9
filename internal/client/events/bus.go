// Package events is the in-process notification bus between the sync
// engine and whatever presents it to the user.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/pantrysync/internal/logging"
)

// Type names an event.
type Type string

const (
	PendingCount    Type = "queue.pending"
	MutationFailed  Type = "mutation.failed"
	RecordRemoved   Type = "record.removed"
	ImageDropped    Type = "image.dropped"
	NetworkMode     Type = "network.mode"
	RealtimeState   Type = "realtime.state"
	RealtimeFailed  Type = "realtime.failed"
	ScopeChanged    Type = "scope.changed"
	BlobsCollected  Type = "blobs.collected"
	SnapshotRestore Type = "snapshot.restored"
)

// Event is a user-facing notification. Message is ready to show.
type Event struct {
	Type     Type
	Message  string
	RecordID string
	Count    int
	State    string
	Err      error
}

type Handler func(Event)

type Bus struct {
	log logging.Logger

	mu        sync.RWMutex
	listeners map[Type]map[int]Handler
	any       map[int]Handler
	nextID    int
}

func NewBus(log logging.Logger) *Bus {
	return &Bus{
		log:       log.With("module", "events"),
		listeners: make(map[Type]map[int]Handler),
		any:       make(map[int]Handler),
	}
}

// On subscribes h to events of type t and returns an unsubscribe function.
func (b *Bus) On(t Type, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.listeners[t] == nil {
		b.listeners[t] = make(map[int]Handler)
	}
	b.listeners[t][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[t], id)
	}
}

// OnAny subscribes h to every event.
func (b *Bus) OnAny(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.any[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.any, id)
	}
}

// Emit delivers e synchronously. A panicking listener is logged and does
// not stop delivery to the others.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.listeners[e.Type])+len(b.any))
	for _, h := range b.listeners[e.Type] {
		hs = append(hs, h)
	}
	for _, h := range b.any {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		b.call(h, e)
	}
}

func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error(context.Background(), "event listener panicked", "event", e.Type, "panic", fmt.Sprint(p))
		}
	}()
	h(e)
}
