package cache

import (
	"slices"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

// Tx mutates the cache inside Update. It must not be used after fn returns.
type Tx struct {
	c       *Cache
	touched map[string]Key
}

func (tx *Tx) touch(k Key) {
	tx.touched[k.String()] = k
}

// Find looks a record up, detail view first.
func (tx *Tx) Find(id string) (models.Record, bool) {
	if d, ok := tx.c.details[id]; ok && d.Record != nil {
		return *d.Record, true
	}
	for _, v := range tx.c.lists {
		if i := indexOf(v.Records, id); i >= 0 {
			return v.Records[i], true
		}
	}
	return models.Record{}, false
}

// InsertHead puts r at the head of every matching list that does not hold
// it yet and sets its detail view.
func (tx *Tx) InsertHead(r models.Record) {
	for _, v := range tx.c.lists {
		if !v.Query.Matches(r) || indexOf(v.Records, r.ID) >= 0 {
			continue
		}
		v.Records = slices.Insert(v.Records, 0, r)
		tx.touch(ListKey(v.Query))
	}
	cp := r
	tx.c.details[r.ID] = &DetailView{Record: &cp, FetchedAt: tx.c.now().UTC()}
	tx.touch(DetailKey(r.ID))
}

// Patch applies p to the cached record id everywhere. Lists the patched
// record stops matching drop it; lists it starts matching get it at the head.
// It reports false when the record is not cached.
func (tx *Tx) Patch(id string, p models.Patch, now time.Time) (models.Record, bool) {
	cur, ok := tx.Find(id)
	if !ok {
		return models.Record{}, false
	}
	next := p.Apply(cur, now)
	tx.put(next, true)
	return next, true
}

// Replace swaps the cached record for r in the views that already hold it.
func (tx *Tx) Replace(r models.Record) {
	tx.put(r, false)
}

func (tx *Tx) put(r models.Record, addToMatching bool) {
	for _, v := range tx.c.lists {
		i := indexOf(v.Records, r.ID)
		matches := v.Query.Matches(r)
		switch {
		case i >= 0 && matches:
			v.Records[i] = r
		case i >= 0:
			v.Records = slices.Delete(v.Records, i, i+1)
		case matches && addToMatching:
			v.Records = slices.Insert(v.Records, 0, r)
		default:
			continue
		}
		tx.touch(ListKey(v.Query))
	}
	if d, ok := tx.c.details[r.ID]; ok && (d.Record != nil || addToMatching) {
		cp := r
		d.Record = &cp
		tx.touch(DetailKey(r.ID))
	}
}

// Remove drops id from every list and deletes its detail view.
func (tx *Tx) Remove(id string) {
	for _, v := range tx.c.lists {
		if i := indexOf(v.Records, id); i >= 0 {
			v.Records = slices.Delete(v.Records, i, i+1)
			tx.touch(ListKey(v.Query))
		}
	}
	if _, ok := tx.c.details[id]; ok {
		delete(tx.c.details, id)
		tx.touch(DetailKey(id))
	}
}

// Capture records the current state of id across all views.
func (tx *Tx) Capture(id string) Checkpoint {
	return tx.c.captureLocked(id)
}

// Restore puts every view back to the checkpointed state of its record.
func (tx *Tx) Restore(cp Checkpoint) {
	id := cp.RecordID
	seen := make(map[string]struct{}, len(cp.Lists))

	for _, e := range cp.Lists {
		key := e.Query.Key()
		seen[key] = struct{}{}
		v, ok := tx.c.lists[key]
		if !ok {
			continue
		}
		if i := indexOf(v.Records, id); i >= 0 {
			v.Records = slices.Delete(v.Records, i, i+1)
		}
		if e.Index >= 0 && e.Record != nil {
			at := min(e.Index, len(v.Records))
			v.Records = slices.Insert(v.Records, at, *e.Record)
		}
		tx.touch(ListKey(v.Query))
	}

	prior := cp.record()
	for key, v := range tx.c.lists {
		if _, ok := seen[key]; ok {
			continue
		}
		i := indexOf(v.Records, id)
		if i < 0 {
			continue
		}
		if prior != nil && v.Query.Matches(*prior) {
			v.Records[i] = *prior
		} else {
			v.Records = slices.Delete(v.Records, i, i+1)
		}
		tx.touch(ListKey(v.Query))
	}

	if cp.Detail == nil {
		if _, ok := tx.c.details[id]; ok {
			delete(tx.c.details, id)
			tx.touch(DetailKey(id))
		}
		return
	}
	d := *cp.Detail
	if cp.Detail.Record != nil {
		r := *cp.Detail.Record
		d.Record = &r
	}
	tx.c.details[id] = &d
	tx.touch(DetailKey(id))
}
