// Package cache holds the in-memory query cache the UI reads from: list
// views keyed by ListQuery and per-record detail views.
//
// All optimistic writes go through Update, which applies a batch of
// changes to every affected view under one lock and then notifies
// subscribers once. Checkpoints capture the state of one record across all
// views so a failed mutation can put the cache back exactly as it was.
package cache

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

// ListQuery selects the records of a list view. An empty GroupID means the
// user's personal records.
type ListQuery struct {
	UserID   string          `json:"user_id"`
	GroupID  string          `json:"group_id,omitempty"`
	Status   models.Status   `json:"status,omitempty"`
	Location models.Location `json:"location,omitempty"`
}

func (q ListQuery) Key() string {
	return fmt.Sprintf("list:user=%s;group=%s;status=%s;location=%s", q.UserID, q.GroupID, q.Status, q.Location)
}

// Matches reports whether r belongs in the view. Soft-deleted records never
// match.
func (q ListQuery) Matches(r models.Record) bool {
	if r.Deleted() {
		return false
	}
	if q.GroupID != "" {
		if r.GroupID != q.GroupID {
			return false
		}
	} else if r.UserID != q.UserID || r.GroupID != "" {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.Location != "" && r.Location != q.Location {
		return false
	}
	return true
}

// KeyKind distinguishes list and detail views.
type KeyKind string

const (
	KindList   KeyKind = "list"
	KindDetail KeyKind = "detail"
)

// Key identifies a view.
type Key struct {
	Kind KeyKind
	List ListQuery
	ID   string
}

func ListKey(q ListQuery) Key { return Key{Kind: KindList, List: q} }
func DetailKey(id string) Key { return Key{Kind: KindDetail, ID: id} }

func (k Key) String() string {
	if k.Kind == KindList {
		return k.List.Key()
	}
	return "detail:" + k.ID
}

func parseDetailKey(s string) (string, bool) {
	return strings.CutPrefix(s, "detail:")
}
