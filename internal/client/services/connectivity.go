package services

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/events"
	"github.com/dmitrijs2005/pantrysync/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type replayer interface {
	Resume(ctx context.Context) error
	Pause()
}

// ConnectivityWatcher polls the remote store and drives replay: online
// resumes the queue, offline pauses it.
type ConnectivityWatcher struct {
	remote   pinger
	queue    replayer
	events   *events.Bus
	log      logging.Logger
	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	mode     Mode
	onOnline []func()
}

func NewConnectivityWatcher(remote pinger, q replayer, bus *events.Bus, log logging.Logger, interval time.Duration) *ConnectivityWatcher {
	return &ConnectivityWatcher{
		remote:   remote,
		queue:    q,
		events:   bus,
		log:      log.With("module", "connectivity"),
		interval: interval,
		timeout:  3 * time.Second,
		mode:     ModeOffline,
	}
}

// OnOnline registers fn to run after every offline to online transition.
func (w *ConnectivityWatcher) OnOnline(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onOnline = append(w.onOnline, fn)
}

func (w *ConnectivityWatcher) Mode() Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Check pings once and applies the resulting mode. ctx also bounds the
// replay started by an online transition.
func (w *ConnectivityWatcher) Check(ctx context.Context) Mode {
	pctx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.remote.Ping(pctx)
	cancel()

	if err != nil {
		w.setMode(ctx, ModeOffline)
	} else {
		w.setMode(ctx, ModeOnline)
	}
	return w.Mode()
}

func (w *ConnectivityWatcher) setMode(ctx context.Context, mode Mode) {
	w.mu.Lock()
	if w.mode == mode {
		w.mu.Unlock()
		return
	}
	w.mode = mode
	hooks := append([]func(){}, w.onOnline...)
	w.mu.Unlock()

	w.log.Info(ctx, "connectivity changed", "mode", mode)
	if mode == ModeOnline {
		if err := w.queue.Resume(ctx); err != nil {
			w.log.Error(ctx, "failed to resume replay", "error", err)
		}
	} else {
		w.queue.Pause()
	}

	if w.events != nil {
		w.events.Emit(events.Event{Type: events.NetworkMode, State: string(mode), Message: "Switched to " + string(mode) + " mode"})
	}
	if mode == ModeOnline {
		for _, fn := range hooks {
			fn()
		}
	}
}

// Run checks immediately and then every interval until ctx is done.
func (w *ConnectivityWatcher) Run(ctx context.Context) error {
	w.Check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Check(ctx)
		case <-ctx.Done():
			w.queue.Pause()
			return nil
		}
	}
}
