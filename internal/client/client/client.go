package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/google/uuid"
)

// ListFilter narrows a remote list query. Empty fields are not applied.
// A filter without GroupID returns the user's personal records only.
type ListFilter struct {
	UserID   string
	GroupID  string
	Status   models.Status
	Location models.Location
}

// RecordsAPI is the authoritative record store.
type RecordsAPI interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, r models.Record) (models.Record, error)
	Update(ctx context.Context, id string, p models.Patch) (models.Record, error)
	// Delete soft-deletes by stamping deleted_at unless hard is set.
	Delete(ctx context.Context, id string, hard bool, at time.Time) error
	Get(ctx context.Context, id string) (models.Record, error)
	List(ctx context.Context, f ListFilter) ([]models.Record, error)
	Close() error
}

// BinaryStore keeps record images.
type BinaryStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ObjectKey returns a fresh storage key for an image of the given record.
func ObjectKey(recordID string, now time.Time) string {
	return fmt.Sprintf("records/%d/%02d/%s/%s", now.Year(), now.Month(), recordID, uuid.NewString())
}
