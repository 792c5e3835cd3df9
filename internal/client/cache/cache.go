package cache

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

// ListView is a cached list result.
type ListView struct {
	Query     ListQuery       `json:"query"`
	Records   []models.Record `json:"records"`
	FetchedAt time.Time       `json:"fetched_at"`
	Stale     bool            `json:"stale"`
}

// DetailView is a cached single record. A nil Record means the record is
// known to be absent.
type DetailView struct {
	Record    *models.Record `json:"record"`
	FetchedAt time.Time      `json:"fetched_at"`
	Stale     bool           `json:"stale"`
}

// Change lists the views touched by one Update or Invalidate call.
type Change struct {
	Keys        []Key
	Invalidated bool
}

type Cache struct {
	mu      sync.RWMutex
	lists   map[string]*ListView
	details map[string]*DetailView

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int

	now func() time.Time
}

func New() *Cache {
	return &Cache{
		lists:   make(map[string]*ListView),
		details: make(map[string]*DetailView),
		subs:    make(map[int]func(Change)),
		now:     time.Now,
	}
}

// Subscribe registers fn for change notifications. It returns a function
// that removes the subscription.
func (c *Cache) Subscribe(fn func(Change)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Cache) notify(ch Change) {
	if len(ch.Keys) == 0 {
		return
	}
	c.subMu.Lock()
	subs := make([]func(Change), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(ch)
	}
}

func copyRecords(in []models.Record) []models.Record {
	if in == nil {
		return nil
	}
	return slices.Clone(in)
}

// List returns a copy of the list view for q.
func (c *Cache) List(q ListQuery) (ListView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.lists[q.Key()]
	if !ok {
		return ListView{}, false
	}
	out := *v
	out.Records = copyRecords(v.Records)
	return out, true
}

// Lists returns the queries of every cached list view.
func (c *Cache) Lists() []ListQuery {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ListQuery, 0, len(c.lists))
	for _, v := range c.lists {
		out = append(out, v.Query)
	}
	slices.SortFunc(out, func(a, b ListQuery) int { return strings.Compare(a.Key(), b.Key()) })
	return out
}

// Details returns the ids of every cached detail view, sorted.
func (c *Cache) Details() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.details))
	for id := range c.details {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Detail returns the detail view for id.
func (c *Cache) Detail(id string) (DetailView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.details[id]
	if !ok {
		return DetailView{}, false
	}
	out := *v
	if v.Record != nil {
		r := *v.Record
		out.Record = &r
	}
	return out, true
}

// Find looks a record up in the detail view first, then in any list.
func (c *Cache) Find(id string) (models.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := c.details[id]; ok && d.Record != nil {
		return *d.Record, true
	}
	for _, v := range c.lists {
		if i := indexOf(v.Records, id); i >= 0 {
			return v.Records[i], true
		}
	}
	return models.Record{}, false
}

// SetList stores a freshly fetched list.
func (c *Cache) SetList(q ListQuery, records []models.Record) {
	c.mu.Lock()
	c.lists[q.Key()] = &ListView{Query: q, Records: copyRecords(records), FetchedAt: c.now().UTC()}
	c.mu.Unlock()
	c.notify(Change{Keys: []Key{ListKey(q)}})
}

// SetDetail stores a freshly fetched record; nil marks it absent.
func (c *Cache) SetDetail(id string, r *models.Record) {
	c.mu.Lock()
	d := &DetailView{FetchedAt: c.now().UTC()}
	if r != nil {
		cp := *r
		d.Record = &cp
	}
	c.details[id] = d
	c.mu.Unlock()
	c.notify(Change{Keys: []Key{DetailKey(id)}})
}

// Update applies fn atomically to every view and notifies once.
func (c *Cache) Update(fn func(tx *Tx)) {
	c.mu.Lock()
	tx := &Tx{c: c, touched: make(map[string]Key)}
	fn(tx)
	c.mu.Unlock()

	keys := make([]Key, 0, len(tx.touched))
	for _, k := range tx.touched {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int { return strings.Compare(a.String(), b.String()) })
	c.notify(Change{Keys: keys})
}

// Invalidate marks every view selected by match as stale and returns the
// keys it marked.
func (c *Cache) Invalidate(match func(Key) bool) []Key {
	c.mu.Lock()
	var keys []Key
	for _, v := range c.lists {
		k := ListKey(v.Query)
		if match(k) {
			v.Stale = true
			keys = append(keys, k)
		}
	}
	for id, d := range c.details {
		k := DetailKey(id)
		if match(k) {
			d.Stale = true
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	slices.SortFunc(keys, func(a, b Key) int { return strings.Compare(a.String(), b.String()) })
	c.notify(Change{Keys: keys, Invalidated: true})
	return keys
}

func (c *Cache) InvalidateAll() []Key {
	return c.Invalidate(func(Key) bool { return true })
}

func (c *Cache) InvalidateLists() []Key {
	return c.Invalidate(func(k Key) bool { return k.Kind == KindList })
}

// InvalidateRecord marks every list view and the detail view of id stale.
func (c *Cache) InvalidateRecord(id string) []Key {
	return c.Invalidate(func(k Key) bool { return k.Kind == KindList || k.ID == id })
}

// Clear drops every view.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.lists = make(map[string]*ListView)
	c.details = make(map[string]*DetailView)
	c.mu.Unlock()
}

// Export encodes every view for the persisted snapshot.
func (c *Cache) Export() (map[string]json.RawMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(c.lists)+len(c.details))
	for k, v := range c.lists {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		out[k] = b
	}
	for id, d := range c.details {
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode detail %s: %w", id, err)
		}
		out[DetailKey(id).String()] = b
	}
	return out, nil
}

// Import replaces the cache with views decoded from a snapshot. Imported
// views are marked stale so they are refetched once a connection exists.
func (c *Cache) Import(views map[string]json.RawMessage) error {
	lists := make(map[string]*ListView)
	details := make(map[string]*DetailView)

	for k, raw := range views {
		if id, ok := parseDetailKey(k); ok {
			var d DetailView
			if err := json.Unmarshal(raw, &d); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			d.Stale = true
			details[id] = &d
			continue
		}
		var v ListView
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		v.Stale = true
		lists[v.Query.Key()] = &v
	}

	c.mu.Lock()
	c.lists = lists
	c.details = details
	c.mu.Unlock()
	return nil
}

func indexOf(records []models.Record, id string) int {
	return slices.IndexFunc(records, func(r models.Record) bool { return r.ID == id })
}
