// Package queue is the durable mutation queue and its replay engine.
//
// Mutations are appended in order and persisted before Enqueue returns.
// Replay runs one drain goroutine per target id: mutations of the same
// target execute strictly in enqueue order, one at a time, while different
// targets proceed concurrently. A retryable failure stops that target's
// chain until the next Resume; a terminal failure removes the mutation and
// lets its handler roll back.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/logging"
	"github.com/dmitrijs2005/pantrysync/internal/shared"
)

// Persister makes the queue durable. Flush must write synchronously;
// Schedule may defer the write.
type Persister interface {
	Schedule()
	Flush(ctx context.Context) error
}

// Observer receives replay statistics.
type Observer interface {
	Replayed(kind models.MutationKind, outcome Outcome, took time.Duration)
	PendingChanged(n int)
}

type Options struct {
	// MaxAttempts bounds OutcomeRetry attempts; zero means unlimited.
	MaxAttempts int
	Classify    func(error) Outcome
	Observer    Observer
	Now         func() time.Time
}

type Queue struct {
	log      logging.Logger
	persist  Persister
	classify func(error) Outcome
	observer Observer
	now      func() time.Time
	maxAtt   int

	mu          sync.Mutex
	items       []models.Mutation
	unpersisted map[string]struct{}
	seq         uint64
	handlers    map[models.MutationKind]Handler
	running     bool
	runCtx      context.Context
	active      map[string]struct{}
	inflight    int
	idle        chan struct{}
	listeners   map[int]func(int)
	nextLID     int
}

func New(persist Persister, log logging.Logger, opts Options) *Queue {
	q := &Queue{
		log:         log.With("module", "queue"),
		persist:     persist,
		classify:    opts.Classify,
		observer:    opts.Observer,
		now:         opts.Now,
		maxAtt:      opts.MaxAttempts,
		unpersisted: make(map[string]struct{}),
		handlers:    make(map[models.MutationKind]Handler),
		active:      make(map[string]struct{}),
		listeners:   make(map[int]func(int)),
		idle:        make(chan struct{}),
	}
	close(q.idle)
	if q.classify == nil {
		q.classify = DefaultClassify
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// RegisterHandler binds h to kind, replacing any earlier registration.
func (q *Queue) RegisterHandler(kind models.MutationKind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// OnPendingChange registers fn to receive the queue length after every
// change. It returns an unsubscribe function.
func (q *Queue) OnPendingChange(fn func(n int)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextLID
	q.nextLID++
	q.listeners[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.listeners, id)
	}
}

func (q *Queue) notifyPending() {
	q.mu.Lock()
	n := len(q.items)
	fns := make([]func(int), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	if q.observer != nil {
		q.observer.PendingChanged(n)
	}
	for _, fn := range fns {
		fn(n)
	}
}

// Enqueue appends m and persists the queue before returning. If persisting
// fails the mutation is dropped again and an ErrStorageUnavailable error is
// returned. The stored copy (with ID, Seq and EnqueuedAt set) is returned.
func (q *Queue) Enqueue(ctx context.Context, m models.Mutation) (models.Mutation, error) {
	if m.Kind == "" || m.TargetID == "" {
		return models.Mutation{}, fmt.Errorf("%w: kind and target id are required", ErrInvalidMutation)
	}
	if m.ID == "" {
		id, err := shared.NewOpaqueID()
		if err != nil {
			return models.Mutation{}, fmt.Errorf("generate mutation id: %w", err)
		}
		m.ID = id
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = q.now().UTC()
	}

	q.mu.Lock()
	q.seq++
	m.Seq = q.seq
	q.items = append(q.items, m)
	q.unpersisted[m.ID] = struct{}{}
	q.mu.Unlock()

	if err := q.persist.Flush(ctx); err != nil {
		q.mu.Lock()
		q.removeLocked(m.ID)
		delete(q.unpersisted, m.ID)
		q.mu.Unlock()
		q.log.Error(ctx, "failed to persist mutation", "kind", m.Kind, "target", m.TargetID, "error", err)
		return models.Mutation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	q.mu.Lock()
	delete(q.unpersisted, m.ID)
	q.startLocked(m.TargetID)
	q.mu.Unlock()

	q.notifyPending()
	return m, nil
}

// Resume starts replay of everything queued. It fails without starting
// anything when a queued mutation has no registered handler. ctx bounds the
// lifetime of the replay goroutines.
func (q *Queue) Resume(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var missing []string
	for _, m := range q.items {
		if _, ok := q.handlers[m.Kind]; !ok && !slices.Contains(missing, string(m.Kind)) {
			missing = append(missing, string(m.Kind))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %v", ErrNoHandler, missing)
	}

	q.running = true
	q.runCtx = ctx
	for _, target := range q.targetsLocked() {
		q.startLocked(target)
	}
	return nil
}

// Pause stops new replay attempts. Attempts already executing finish.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
}

// Running reports whether replay is resumed.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Wait blocks until no drain goroutine is running or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.inflight == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queued mutations in enqueue order.
func (q *Queue) Pending() []models.Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// PendingFor reports whether target has queued mutations.
func (q *Queue) PendingFor(target string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.ContainsFunc(q.items, func(m models.Mutation) bool { return m.TargetID == target })
}

// Restore replaces the queue content with mutations loaded from a snapshot.
func (q *Queue) Restore(ms []models.Mutation) {
	q.mu.Lock()
	items := slices.Clone(ms)
	slices.SortStableFunc(items, func(a, b models.Mutation) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	q.items = items
	q.seq = 0
	for _, m := range items {
		q.seq = max(q.seq, m.Seq)
	}
	q.mu.Unlock()
	q.notifyPending()
}

func (q *Queue) targetsLocked() []string {
	var targets []string
	for _, m := range q.items {
		if !slices.Contains(targets, m.TargetID) {
			targets = append(targets, m.TargetID)
		}
	}
	return targets
}

func (q *Queue) startLocked(target string) {
	if !q.running {
		return
	}
	if _, ok := q.active[target]; ok {
		return
	}
	q.active[target] = struct{}{}
	if q.inflight == 0 {
		q.idle = make(chan struct{})
	}
	q.inflight++
	go q.drain(q.runCtx, target)
}

func (q *Queue) finishLocked(target string) {
	delete(q.active, target)
	q.inflight--
	if q.inflight == 0 {
		close(q.idle)
	}
}

func (q *Queue) headLocked(target string) (models.Mutation, bool) {
	for _, m := range q.items {
		if m.TargetID != target {
			continue
		}
		if _, ok := q.unpersisted[m.ID]; ok {
			return models.Mutation{}, false
		}
		return m, true
	}
	return models.Mutation{}, false
}

func (q *Queue) removeLocked(id string) {
	q.items = slices.DeleteFunc(q.items, func(m models.Mutation) bool { return m.ID == id })
}

func (q *Queue) updateLocked(id string, fn func(m *models.Mutation)) {
	for i := range q.items {
		if q.items[i].ID == id {
			fn(&q.items[i])
			return
		}
	}
}

func (q *Queue) rewrite(ctx context.Context, id string, payload json.RawMessage) error {
	q.mu.Lock()
	found := false
	q.updateLocked(id, func(m *models.Mutation) {
		m.Payload = payload
		found = true
	})
	q.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: mutation %s is no longer queued", ErrInvalidMutation, id)
	}
	if err := q.persist.Flush(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// drain replays target's mutations in order until the chain is empty,
// replay is paused, or an attempt must be retried later.
func (q *Queue) drain(ctx context.Context, target string) {
	log := q.log.With("target", target)
	for {
		q.mu.Lock()
		if !q.running || ctx.Err() != nil {
			q.finishLocked(target)
			q.mu.Unlock()
			return
		}
		m, ok := q.headLocked(target)
		if !ok {
			q.finishLocked(target)
			q.mu.Unlock()
			return
		}
		h := q.handlers[m.Kind]
		q.mu.Unlock()

		if h == nil {
			log.Error(ctx, "handler disappeared, stopping chain", "kind", m.Kind)
			q.mu.Lock()
			q.finishLocked(target)
			q.mu.Unlock()
			return
		}

		if !q.attempt(ctx, log, h, m) {
			q.mu.Lock()
			q.finishLocked(target)
			q.mu.Unlock()
			return
		}
	}
}

// attempt runs one mutation and reports whether the chain may continue.
func (q *Queue) attempt(ctx context.Context, log logging.Logger, h Handler, m models.Mutation) bool {
	job := &Job{q: q, m: m}
	started := q.now()
	result, err := q.execute(ctx, h, job)
	outcome := q.classify(err)
	m = job.m

	if outcome == OutcomeRetry {
		q.mu.Lock()
		attempts := 0
		q.updateLocked(m.ID, func(qm *models.Mutation) {
			qm.Attempts++
			qm.LastError = err.Error()
			attempts = qm.Attempts
		})
		q.mu.Unlock()
		if q.maxAtt > 0 && attempts >= q.maxAtt {
			outcome = OutcomeTerminal
			err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
		}
	}

	if q.observer != nil {
		q.observer.Replayed(m.Kind, outcome, q.now().Sub(started))
	}

	switch outcome {
	case OutcomeSuccess:
		q.mu.Lock()
		q.removeLocked(m.ID)
		q.mu.Unlock()
		q.persist.Schedule()
		q.notifyPending()
		log.Debug(ctx, "mutation replayed", "kind", m.Kind, "id", m.ID)
		h.OnSuccess(ctx, m, result)
		return true

	case OutcomeTerminal:
		q.mu.Lock()
		q.removeLocked(m.ID)
		q.mu.Unlock()
		q.persist.Schedule()
		q.notifyPending()
		log.Error(ctx, "mutation failed permanently", "kind", m.Kind, "id", m.ID, "error", err)
		h.OnFailure(ctx, m, err)
		return true

	default:
		q.persist.Schedule()
		log.Warn(ctx, "mutation will be retried", "kind", m.Kind, "id", m.ID, "outcome", outcome, "error", err)
		return false
	}
}

func (q *Queue) execute(ctx context.Context, h Handler, job *Job) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Terminal(fmt.Errorf("handler panic: %v", p))
		}
	}()
	return h.Execute(ctx, job)
}
