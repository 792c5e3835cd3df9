package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/cache"
	"github.com/dmitrijs2005/pantrysync/internal/client/dedup"
	"github.com/dmitrijs2005/pantrysync/internal/client/events"
	"github.com/dmitrijs2005/pantrysync/internal/client/throttle"
	"github.com/dmitrijs2005/pantrysync/internal/logging"
)

// ReconcileObserver receives reconciliation statistics.
type ReconcileObserver interface {
	EchoIgnored(kind string)
	Invalidated(cause string)
}

// Reconciler applies feed events to the cache.
//
// Inserts always invalidate the list views: a duplicate insert of a record
// already shown is a no-op after the refetch, so there is nothing to gain
// from suppressing echoes. Updates and deletes this client made within the
// dedup window are echoes and are dropped.
type Reconciler struct {
	cache    *cache.Cache
	dedup    *dedup.Tracker
	events   *events.Bus
	observer ReconcileObserver
	log      logging.Logger
	refresh  *throttle.Throttle

	mu    sync.Mutex
	scope Scope
}

// NewReconciler returns a reconciler for scope. refresh refetches stale
// views; it runs at most once per interval however many events arrive.
func NewReconciler(c *cache.Cache, d *dedup.Tracker, bus *events.Bus, log logging.Logger, scope Scope, refresh func(), interval time.Duration) *Reconciler {
	r := &Reconciler{
		cache:  c,
		dedup:  d,
		events: bus,
		log:    log.With("module", "reconciler"),
		scope:  scope,
	}
	if refresh == nil {
		refresh = func() {}
	}
	r.refresh = throttle.New(interval, refresh)
	return r
}

// SetObserver attaches o; nil detaches.
func (r *Reconciler) SetObserver(o ReconcileObserver) { r.observer = o }

func (r *Reconciler) SetScope(s Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scope = s
}

func (r *Reconciler) Scope() Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope
}

// Register installs the reconciler's handlers on sub.
func (r *Reconciler) Register(sub *Subscription) {
	sub.Handle(EventInsert, r.OnInsert)
	sub.Handle(EventUpdate, r.OnUpdate)
	sub.Handle(EventDelete, r.OnDelete)
}

func (r *Reconciler) invalidated(cause string, keys []cache.Key) {
	if r.observer != nil {
		r.observer.Invalidated(cause)
	}
	if len(keys) > 0 {
		r.refresh.Trigger()
	}
}

func (r *Reconciler) echo(kind dedup.Kind, id string) bool {
	if !r.dedup.IsEcho(kind, id) {
		return false
	}
	if r.observer != nil {
		r.observer.EchoIgnored(string(kind))
	}
	return true
}

func (r *Reconciler) OnInsert(ctx context.Context, e Event) {
	r.log.Debug(ctx, "remote insert", "id", e.RecordID())
	r.invalidated("insert", r.cache.InvalidateLists())
}

func (r *Reconciler) OnUpdate(ctx context.Context, e Event) {
	id := e.RecordID()
	if r.echo(dedup.KindUpdate, id) {
		r.log.Debug(ctx, "ignoring echo of local update", "id", id)
		return
	}
	r.log.Debug(ctx, "remote update", "id", id)
	r.invalidated("update", r.cache.InvalidateRecord(id))
}

// OnDelete drops the record and tells the user. The feed cannot filter
// deletes by scope, so rows of other scopes are ignored here.
func (r *Reconciler) OnDelete(ctx context.Context, e Event) {
	id := e.RecordID()
	cached, ok := r.cache.Find(id)

	// Deletes often carry only the key. The cached copy then tells whose
	// record it was.
	userID, groupID := cached.UserID, cached.GroupID
	if old := e.OldRecord; old != nil && (old.UserID != "" || old.GroupID != "") {
		userID, groupID = old.UserID, old.GroupID
	}
	if (ok || userID != "" || groupID != "") && !r.Scope().Contains(userID, groupID) {
		r.log.Debug(ctx, "ignoring delete outside the active scope", "id", id, "group", groupID)
		return
	}
	if r.echo(dedup.KindDelete, id) {
		r.log.Debug(ctx, "ignoring echo of local delete", "id", id)
		return
	}
	if !ok {
		r.log.Debug(ctx, "remote delete of uncached record", "id", id)
		return
	}
	r.cache.Update(func(tx *cache.Tx) { tx.Remove(id) })
	if r.observer != nil {
		r.observer.Invalidated("delete")
	}
	r.log.Info(ctx, "record removed remotely", "id", id)

	if r.events != nil {
		r.events.Emit(events.Event{
			Type:     events.RecordRemoved,
			RecordID: id,
			Message:  fmt.Sprintf("%s was removed by another user", cached.Name),
		})
	}
}

// Wake runs a reconciliation pass outside the feed, for example after a
// push notification about a subscription change.
func (r *Reconciler) Wake(ctx context.Context) {
	r.log.Debug(ctx, "reconciliation pass requested")
	r.invalidated("wake", r.cache.InvalidateAll())
}

// Refresh requests a throttled refetch of stale views.
func (r *Reconciler) Refresh() { r.refresh.Trigger() }

func (r *Reconciler) Stop() { r.refresh.Stop() }
