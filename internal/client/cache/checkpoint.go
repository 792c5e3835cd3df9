package cache

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

// ListEntry is the position of a record in one list view. Index is -1 when
// the list did not contain the record.
type ListEntry struct {
	Query  ListQuery      `json:"query"`
	Index  int            `json:"index"`
	Record *models.Record `json:"record,omitempty"`
}

// Checkpoint is the state of one record across every cached view. It is
// stored with the queued mutation so rollback survives restarts.
type Checkpoint struct {
	RecordID string      `json:"record_id"`
	Lists    []ListEntry `json:"lists"`
	Detail   *DetailView `json:"detail,omitempty"`
}

func (cp Checkpoint) record() *models.Record {
	if cp.Detail != nil && cp.Detail.Record != nil {
		return cp.Detail.Record
	}
	for _, e := range cp.Lists {
		if e.Record != nil {
			return e.Record
		}
	}
	return nil
}

func (cp Checkpoint) Marshal() (json.RawMessage, error) {
	b, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return b, nil
}

func UnmarshalCheckpoint(b json.RawMessage) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// Capture records the current state of id across all views.
func (c *Cache) Capture(id string) Checkpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.captureLocked(id)
}

func (c *Cache) captureLocked(id string) Checkpoint {
	cp := Checkpoint{RecordID: id, Lists: make([]ListEntry, 0, len(c.lists))}
	for _, v := range c.lists {
		e := ListEntry{Query: v.Query, Index: indexOf(v.Records, id)}
		if e.Index >= 0 {
			r := v.Records[e.Index]
			e.Record = &r
		}
		cp.Lists = append(cp.Lists, e)
	}
	if d, ok := c.details[id]; ok {
		dv := *d
		if d.Record != nil {
			r := *d.Record
			dv.Record = &r
		}
		cp.Detail = &dv
	}
	return cp
}
