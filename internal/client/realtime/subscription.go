package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/cache"
	"github.com/dmitrijs2005/pantrysync/internal/client/events"
	"github.com/dmitrijs2005/pantrysync/internal/logging"
)

// Observer receives subscription statistics.
type Observer interface {
	StateChanged(from, to string)
	Reconnecting()
}

type Options struct {
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	// MaxReconnectAttempts is the number of consecutive failed connects
	// after which the failure is reported and the subscription waits for
	// Reconnect. Zero retries forever.
	MaxReconnectAttempts int
	Observer             Observer
	// OnConnected runs after every successful connect, once the views have
	// been invalidated.
	OnConnected func()
}

// Subscription keeps one feed connection open for the current scope and
// dispatches its events.
type Subscription struct {
	transport Transport
	cache     *cache.Cache
	events    *events.Bus
	log       logging.Logger
	observer  Observer
	backoff   *backoff
	connected func()

	mu       sync.Mutex
	state    State
	scope    Scope
	handlers map[EventType]HandlerFunc
	cancel   context.CancelFunc
	kick     chan struct{}
}

func NewSubscription(t Transport, c *cache.Cache, bus *events.Bus, log logging.Logger, scope Scope, opts Options) *Subscription {
	return &Subscription{
		transport: t,
		cache:     c,
		events:    bus,
		log:       log.With("module", "realtime"),
		observer:  opts.Observer,
		connected: opts.OnConnected,
		backoff:   newBackoff(opts.ReconnectBaseDelay, opts.ReconnectMaxDelay, opts.MaxReconnectAttempts),
		state:     StateDisconnected,
		scope:     scope,
		handlers:  make(map[EventType]HandlerFunc),
		kick:      make(chan struct{}, 1),
	}
}

// Handle sets the handler of one event type.
func (s *Subscription) Handle(t EventType, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) Scope() Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// SetScope switches the feed to scope. An open connection is dropped and
// a new one is made right away.
func (s *Subscription) SetScope(scope Scope) {
	s.mu.Lock()
	if s.scope == scope {
		s.mu.Unlock()
		return
	}
	s.scope = scope
	s.mu.Unlock()
	s.Reconnect()
}

// Reconnect drops the current connection, or cuts a backoff wait short,
// and connects again with a fresh attempt budget.
func (s *Subscription) Reconnect() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Subscription) setState(ctx context.Context, to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	if err := checkTransition(from, to); err != nil {
		s.mu.Unlock()
		s.log.Error(ctx, "refusing state change", "error", err)
		return
	}
	s.state = to
	s.mu.Unlock()

	s.log.Debug(ctx, "subscription state", "from", from, "to", to)
	if s.observer != nil {
		s.observer.StateChanged(string(from), string(to))
	}
	if s.events != nil {
		s.events.Emit(events.Event{Type: events.RealtimeState, State: string(to)})
	}
}

func (s *Subscription) kicked() bool {
	select {
	case <-s.kick:
		return true
	default:
		return false
	}
}

// Run connects, dispatches events and reconnects with backoff until ctx is
// done. It always returns nil; connection problems are logged and, once the
// attempts are used up, reported on the event bus.
func (s *Subscription) Run(ctx context.Context) error {
	defer s.setState(context.WithoutCancel(ctx), StateClosed)

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.kicked()

		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if s.kicked() {
			s.log.Info(ctx, "resubscribing", "channel", ChannelName(s.Scope()))
			s.setState(ctx, StateClosed)
			s.backoff.reset()
			continue
		}
		s.setState(ctx, StateError)

		delay, ok := s.backoff.next()
		if !ok {
			s.gaveUp(ctx, err)
			select {
			case <-ctx.Done():
				return nil
			case <-s.kick:
				s.backoff.reset()
				continue
			}
		}

		s.log.Warn(ctx, "feed connection lost, reconnecting", "attempt", s.backoff.attempts(), "delay", delay, "error", err)
		if s.observer != nil {
			s.observer.Reconnecting()
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.kick:
			timer.Stop()
			s.backoff.reset()
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails or is cancelled.
func (s *Subscription) session(ctx context.Context) error {
	s.setState(ctx, StateConnecting)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	scope := s.scope
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	stream, err := s.transport.Connect(sctx, scope)
	if err != nil {
		return fmt.Errorf("connect %s: %w", ChannelName(scope), err)
	}
	defer stream.Close()

	s.setState(ctx, StateConnected)
	s.backoff.reset()
	keys := s.cache.InvalidateAll()
	s.log.Info(ctx, "feed connected, views invalidated", "channel", ChannelName(scope), "views", len(keys))
	if s.connected != nil {
		s.connected()
	}

	for {
		e, err := stream.Next(sctx)
		if err != nil {
			if errors.Is(err, context.Canceled) && sctx.Err() != nil {
				return err
			}
			return fmt.Errorf("read %s: %w", ChannelName(scope), err)
		}
		s.dispatch(sctx, e)
	}
}

func (s *Subscription) dispatch(ctx context.Context, e Event) {
	s.mu.Lock()
	h := s.handlers[e.Type]
	s.mu.Unlock()
	if h == nil {
		s.log.Debug(ctx, "no handler for event", "type", e.Type)
		return
	}
	h(ctx, e)
}

func (s *Subscription) gaveUp(ctx context.Context, err error) {
	s.log.Error(ctx, "giving up on the feed", "attempts", s.backoff.attempts(), "error", err)
	if s.events == nil {
		return
	}
	s.events.Emit(events.Event{
		Type:    events.RealtimeFailed,
		Message: fmt.Sprintf("Live updates are unavailable after %d reconnect attempts", s.backoff.attempts()),
		Err:     err,
	})
}
