package blobstore

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

var (
	ErrBlobNotFound = errors.New("pending blob not found")
	ErrBlobCorrupt  = errors.New("pending blob checksum mismatch")
	ErrBlobTooLarge = errors.New("pending blob too large")
	ErrBlobEmpty    = errors.New("pending blob is empty")
)

// MaxBlobSize bounds a single stored image.
const MaxBlobSize = 10 << 20

// BlobInfo is blob metadata without the bytes.
type BlobInfo struct {
	ID           string
	Size         int64
	MimeType     string
	OriginalName string
	CreatedAt    time.Time
}

// Repository is the contract used by the sync layer.
type Repository interface {
	// Save stores data under a freshly generated opaque id.
	Save(ctx context.Context, data []byte, mimeType, originalName string) (models.PendingBlob, error)

	// Get returns the blob or ErrBlobNotFound / ErrBlobCorrupt.
	Get(ctx context.Context, id string) (models.PendingBlob, error)

	// Delete removes the blob. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns metadata for every stored blob, oldest first.
	List(ctx context.Context) ([]BlobInfo, error)

	// DeleteMany removes the given ids in one transaction and reports how many
	// rows went away.
	DeleteMany(ctx context.Context, ids []string) (int, error)
}
