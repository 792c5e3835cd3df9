package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/pantrysync/internal/client/blobstore"
	"github.com/dmitrijs2005/pantrysync/internal/client/cache"
	"github.com/dmitrijs2005/pantrysync/internal/client/client"
	"github.com/dmitrijs2005/pantrysync/internal/client/events"
	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/client/queue"
)

// RegisterHandlers binds the replay handler of every mutation kind. It must
// run before the queue is resumed.
func (s *RecordService) RegisterHandlers(q *queue.Queue) {
	q.RegisterHandler(models.MutationCreate, queue.HandlerFuncs{
		ExecuteFunc:   s.executeCreate,
		OnSuccessFunc: s.onWritten,
		OnFailureFunc: s.onFailed,
	})
	q.RegisterHandler(models.MutationUpdate, queue.HandlerFuncs{
		ExecuteFunc:   s.executeUpdate,
		OnSuccessFunc: s.onWritten,
		OnFailureFunc: s.onFailed,
	})
	q.RegisterHandler(models.MutationStatus, queue.HandlerFuncs{
		ExecuteFunc:   s.executeStatus,
		OnSuccessFunc: s.onWritten,
		OnFailureFunc: s.onFailed,
	})
	q.RegisterHandler(models.MutationDelete, queue.HandlerFuncs{
		ExecuteFunc:   s.executeDelete,
		OnFailureFunc: s.onFailed,
	})
}

func (s *RecordService) executeCreate(ctx context.Context, job *queue.Job) (any, error) {
	p, err := models.DecodePayload[models.CreatePayload](job.Mutation())
	if err != nil {
		return nil, queue.Terminal(err)
	}

	ref, err := s.resolveImage(ctx, job, p.Record.Name, p.Record.ImageRef, func(ref string) any {
		p.Record.ImageRef = ref
		return p
	})
	if err != nil {
		return nil, err
	}
	p.Record.ImageRef = ref

	row, err := s.remote.Insert(ctx, p.Record)
	if errors.Is(err, client.ErrAlreadyExists) {
		// An earlier attempt reached the server before the process stopped.
		s.log.Info(ctx, "record already inserted, reading it back", "id", p.Record.ID)
		row, err = s.remote.Get(ctx, p.Record.ID)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *RecordService) executeUpdate(ctx context.Context, job *queue.Job) (any, error) {
	m := job.Mutation()
	p, err := models.DecodePayload[models.UpdatePayload](m)
	if err != nil {
		return nil, queue.Terminal(err)
	}

	if p.Patch.ImageRef != nil {
		name := m.TargetID
		if r, ok := s.cache.Find(m.TargetID); ok {
			name = r.Name
		}
		ref, err := s.resolveImage(ctx, job, name, *p.Patch.ImageRef, func(ref string) any {
			p.Patch.ImageRef = &ref
			return p
		})
		if err != nil {
			return nil, err
		}
		p.Patch.ImageRef = &ref
	}

	return s.remote.Update(ctx, m.TargetID, p.Patch)
}

func (s *RecordService) executeStatus(ctx context.Context, job *queue.Job) (any, error) {
	m := job.Mutation()
	p, err := models.DecodePayload[models.StatusPayload](m)
	if err != nil {
		return nil, queue.Terminal(err)
	}
	return s.remote.Update(ctx, m.TargetID, p.Patch())
}

func (s *RecordService) executeDelete(ctx context.Context, job *queue.Job) (any, error) {
	m := job.Mutation()
	p, err := models.DecodePayload[models.DeletePayload](m)
	if err != nil {
		return nil, queue.Terminal(err)
	}
	err = s.remote.Delete(ctx, m.TargetID, p.Hard, p.DeletedAt)
	if errors.Is(err, client.ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

// errImageUpload wraps upload failures that should use up an attempt.
var errImageUpload = errors.New("image upload failed")

// resolveImage uploads a pending image and returns the remote key. The
// cached record and the payload are switched to the key before the local
// blob is deleted, so neither ever points at a missing blob. A blob that is
// gone or keeps failing to upload is dropped and the mutation continues
// without an image. Only connectivity failures wait without counting
// towards BlobRetryLimit.
func (s *RecordService) resolveImage(ctx context.Context, job *queue.Job, name, ref string, withRef func(string) any) (string, error) {
	blobID, ok := blobstore.ParsePendingURI(ref)
	if !ok {
		return ref, nil
	}
	m := job.Mutation()
	log := s.log.With("mutation", m.ID, "blob", blobID)

	rewrite := func(newRef string) error {
		b, err := json.Marshal(withRef(newRef))
		if err != nil {
			return queue.Terminal(fmt.Errorf("encode payload: %w", err))
		}
		s.relinkImage(m.TargetID, ref, newRef)
		if err := job.Rewrite(ctx, b); err != nil {
			s.relinkImage(m.TargetID, newRef, ref)
			return err
		}
		return nil
	}

	blob, err := s.blobs.Get(ctx, blobID)
	if errors.Is(err, blobstore.ErrBlobNotFound) || errors.Is(err, blobstore.ErrBlobCorrupt) {
		log.Warn(ctx, "pending image unavailable, continuing without it", "error", err)
		if err := rewrite(""); err != nil {
			return "", err
		}
		_ = s.blobs.Delete(ctx, blobID)
		s.imageDropped(m.TargetID, name)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	key := client.ObjectKey(m.TargetID, s.now().UTC())
	if err := s.binary.Upload(ctx, key, blob.Data, blob.MimeType); err != nil {
		if uploadShouldWait(err) {
			return "", err
		}
		if m.Attempts+1 < s.blobRetryLimit {
			return "", fmt.Errorf("%w: %v", errImageUpload, err)
		}
		log.Warn(ctx, "image upload keeps failing, continuing without it", "attempts", m.Attempts+1, "error", err)
		if err := rewrite(""); err != nil {
			return "", err
		}
		if err := s.blobs.Delete(ctx, blobID); err != nil {
			log.Warn(ctx, "failed to delete dropped image", "error", err)
		}
		s.imageDropped(m.TargetID, name)
		return "", nil
	}

	if err := rewrite(key); err != nil {
		return "", err
	}
	if err := s.blobs.Delete(ctx, blobID); err != nil {
		log.Warn(ctx, "failed to delete uploaded pending image", "error", err)
	}
	log.Debug(ctx, "pending image uploaded", "key", key)
	return key, nil
}

// uploadShouldWait reports upload failures that say nothing about the
// upload itself. Rejections by the object store count as attempts.
func uploadShouldWait(err error) bool {
	return errors.Is(err, client.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// relinkImage points the cached record id at to, if it still shows from.
func (s *RecordService) relinkImage(id, from, to string) {
	s.cache.Update(func(tx *cache.Tx) {
		cur, ok := tx.Find(id)
		if !ok || cur.ImageRef != from {
			return
		}
		cur.ImageRef = to
		tx.Replace(cur)
	})
}

func (s *RecordService) imageDropped(id, name string) {
	if s.events == nil {
		return
	}
	s.events.Emit(events.Event{
		Type:     events.ImageDropped,
		RecordID: id,
		Message:  fmt.Sprintf("The image for %q could not be uploaded and was skipped", name),
	})
}

// onWritten replaces the optimistic record with the server row and lays
// any still-queued changes of the same record back on top.
func (s *RecordService) onWritten(ctx context.Context, m models.Mutation, result any) {
	row, ok := result.(models.Record)
	if !ok {
		return
	}
	pending := pendingFor(s.queue.Pending(), row.ID)
	s.cache.Update(func(tx *cache.Tx) {
		tx.Replace(row)
		reapply(tx, pending)
	})
	s.log.Debug(ctx, "record reconciled", "id", row.ID, "kind", m.Kind)
}

// onFailed restores the checkpoint taken when m was enqueued and reports
// the failure.
func (s *RecordService) onFailed(ctx context.Context, m models.Mutation, err error) {
	name := s.recordName(m)

	cp, derr := cache.UnmarshalCheckpoint(m.Rollback)
	if derr != nil {
		s.log.Error(ctx, "rollback data unreadable, invalidating record", "id", m.TargetID, "error", derr)
		s.cache.InvalidateRecord(m.TargetID)
	} else {
		pending := pendingFor(s.queue.Pending(), m.TargetID)
		s.cache.Update(func(tx *cache.Tx) {
			tx.Restore(cp)
			reapply(tx, pending)
		})
	}

	if ref := m.ImageRef(); ref != "" {
		s.discardImage(ctx, ref)
	}

	if s.events != nil {
		s.events.Emit(events.Event{
			Type:     events.MutationFailed,
			RecordID: m.TargetID,
			Message:  failureMessage(m.Kind, name, err),
			Err:      err,
		})
	}
}

// discardImage drops the image a rejected mutation carried: the local blob
// if it was never uploaded, the remote object if it was.
func (s *RecordService) discardImage(ctx context.Context, ref string) {
	if blobID, ok := blobstore.ParsePendingURI(ref); ok {
		if err := s.blobs.Delete(ctx, blobID); err != nil {
			s.log.Warn(ctx, "failed to delete image of rejected mutation", "blob", blobID, "error", err)
		}
		return
	}
	if s.binary == nil {
		return
	}
	if err := s.binary.Delete(ctx, ref); err != nil {
		s.log.Warn(ctx, "failed to delete uploaded image of rejected mutation", "key", ref, "error", err)
	}
}

func (s *RecordService) recordName(m models.Mutation) string {
	if v, err := m.Decode(); err == nil {
		switch p := v.(type) {
		case models.CreatePayload:
			return p.Record.Name
		case models.DeletePayload:
			if p.Name != "" {
				return p.Name
			}
		}
	}
	if r, ok := s.cache.Find(m.TargetID); ok {
		return r.Name
	}
	return m.TargetID
}

func failureMessage(kind models.MutationKind, name string, err error) string {
	verb := "update"
	switch kind {
	case models.MutationCreate:
		verb = "save"
	case models.MutationDelete:
		verb = "delete"
	}
	return fmt.Sprintf("Could not %s %q: %v", verb, name, err)
}
