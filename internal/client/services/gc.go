package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/blobstore"
	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/logging"
)

// CollectOrphanBlobs deletes pending blobs that no queued mutation refers
// to and that are older than grace. Younger blobs may belong to a form the
// user has not submitted yet.
func CollectOrphanBlobs(ctx context.Context, blobs blobstore.Repository, pending []models.Mutation, grace time.Duration, now time.Time, log logging.Logger) (int, error) {
	referenced := make(map[string]struct{})
	for _, m := range pending {
		if id, ok := blobstore.ParsePendingURI(m.ImageRef()); ok {
			referenced[id] = struct{}{}
		}
	}

	infos, err := blobs.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-grace)
	var orphans []string
	for _, b := range infos {
		if _, ok := referenced[b.ID]; ok || b.CreatedAt.After(cutoff) {
			continue
		}
		orphans = append(orphans, b.ID)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	n, err := blobs.DeleteMany(ctx, orphans)
	if err != nil {
		return 0, err
	}
	log.Info(ctx, "orphaned pending images removed", "module", "gc", "count", n)
	return n, nil
}
