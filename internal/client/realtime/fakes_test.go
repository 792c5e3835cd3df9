package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/events"
	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

var errDropped = errors.New("connection dropped")

type fakeStream struct {
	events chan Event
	errc   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan Event, 8), errc: make(chan error, 1), closed: make(chan struct{})}
}

func (s *fakeStream) Next(ctx context.Context) (Event, error) {
	select {
	case e := <-s.events:
		return e, nil
	case err := <-s.errc:
		return Event{}, err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeTransport struct {
	mu      sync.Mutex
	scopes  []Scope
	fail    int
	streams chan *fakeStream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{streams: make(chan *fakeStream, 16)}
}

func (t *fakeTransport) Connect(_ context.Context, scope Scope) (Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scopes = append(t.scopes, scope)
	if t.fail > 0 {
		t.fail--
		return nil, errDropped
	}
	s := newFakeStream()
	t.streams <- s
	return s, nil
}

func (t *fakeTransport) setFail(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = n
}

func (t *fakeTransport) connects() []Scope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Scope(nil), t.scopes...)
}

func (t *fakeTransport) nextStream(timeout time.Duration) *fakeStream {
	select {
	case s := <-t.streams:
		return s
	case <-time.After(timeout):
		return nil
	}
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) add(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, e)
}

func (r *recorder) of(tp events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.evs {
		if e.Type == tp {
			out = append(out, e)
		}
	}
	return out
}

func milk(id string) models.Record {
	exp := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	return models.Record{
		ID: id, Name: "Milk", ExpiresAt: &exp, Quantity: 1, Unit: "l",
		Location: models.LocationFridge, Status: models.StatusActive, UserID: "u1",
	}
}
