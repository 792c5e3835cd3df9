package realtime

import (
	"context"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is one change notification. Record is the row after the change;
// OldRecord is set for updates and deletes and may hold only the key
// columns.
type Event struct {
	Type            EventType      `json:"type"`
	Table           string         `json:"table"`
	Record          *models.Record `json:"record,omitempty"`
	OldRecord       *models.Record `json:"old_record,omitempty"`
	CommitTimestamp time.Time      `json:"commit_timestamp"`
}

// RecordID is the id of the changed row.
func (e Event) RecordID() string {
	if e.Record != nil && e.Record.ID != "" {
		return e.Record.ID
	}
	if e.OldRecord != nil {
		return e.OldRecord.ID
	}
	return ""
}

// Stream is one open feed connection.
type Stream interface {
	// Next blocks until the next event arrives, the connection drops or ctx
	// is done.
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Transport opens feed connections for a scope.
type Transport interface {
	Connect(ctx context.Context, scope Scope) (Stream, error)
}

// HandlerFunc handles one dispatched event.
type HandlerFunc func(ctx context.Context, e Event)
