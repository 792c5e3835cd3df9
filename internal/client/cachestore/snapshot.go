package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

// SnapshotVersion is bumped whenever the encoded layout changes.
const SnapshotVersion = 1

var (
	ErrSnapshotNotFound = errors.New("cache snapshot not found")
	ErrSnapshotCorrupt  = errors.New("cache snapshot corrupt")
	ErrSnapshotVersion  = errors.New("cache snapshot version mismatch")
)

// Snapshot is the persisted cache state.
type Snapshot struct {
	Version   int                        `json:"version"`
	SavedAt   time.Time                  `json:"saved_at"`
	Queries   map[string]json.RawMessage `json:"queries"`
	Mutations []models.Mutation          `json:"mutations"`
}

// Store saves and loads snapshots.
type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
	Clear(ctx context.Context) error
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	return json.Marshal(s)
}

func decodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, errors.Join(ErrSnapshotCorrupt, err)
	}
	if s.Version != SnapshotVersion {
		return Snapshot{}, ErrSnapshotVersion
	}
	return s, nil
}
