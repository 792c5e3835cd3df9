package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/blobstore"
	"github.com/dmitrijs2005/pantrysync/internal/client/cache"
	"github.com/dmitrijs2005/pantrysync/internal/client/client"
	"github.com/dmitrijs2005/pantrysync/internal/client/dedup"
	"github.com/dmitrijs2005/pantrysync/internal/client/events"
	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/client/queue"
	"github.com/dmitrijs2005/pantrysync/internal/common"
	"github.com/dmitrijs2005/pantrysync/internal/logging"
	"github.com/google/uuid"
)

// Deps are the collaborators of RecordService.
type Deps struct {
	Cache  *cache.Cache
	Queue  *queue.Queue
	Blobs  blobstore.Repository
	Remote client.RecordsAPI
	Binary client.BinaryStore
	Dedup  *dedup.Tracker
	Events *events.Bus
	Log    logging.Logger

	// BlobRetryLimit is the number of failed upload attempts after which a
	// mutation proceeds without its image.
	BlobRetryLimit int
	Now            func() time.Time
}

type RecordService struct {
	cache  *cache.Cache
	queue  *queue.Queue
	blobs  blobstore.Repository
	remote client.RecordsAPI
	binary client.BinaryStore
	dedup  *dedup.Tracker
	events *events.Bus
	log    logging.Logger

	blobRetryLimit int
	now            func() time.Time
}

func NewRecordService(d Deps) *RecordService {
	s := &RecordService{
		cache:          d.Cache,
		queue:          d.Queue,
		blobs:          d.Blobs,
		remote:         d.Remote,
		binary:         d.Binary,
		dedup:          d.Dedup,
		events:         d.Events,
		log:            d.Log.With("module", "records"),
		blobRetryLimit: d.BlobRetryLimit,
		now:            d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.blobRetryLimit <= 0 {
		s.blobRetryLimit = 1
	}
	return s
}

// apply captures the target's views, runs mutate inside one cache update and
// enqueues m with the checkpoint as rollback data. If mutate fails nothing
// is enqueued; if enqueueing fails the checkpoint is restored.
func (s *RecordService) apply(ctx context.Context, m models.Mutation, mutate func(tx *cache.Tx) error) error {
	var (
		cp       cache.Checkpoint
		applyErr error
	)
	s.cache.Update(func(tx *cache.Tx) {
		cp = tx.Capture(m.TargetID)
		applyErr = mutate(tx)
	})
	if applyErr != nil {
		return applyErr
	}

	rollback := func() { s.cache.Update(func(tx *cache.Tx) { tx.Restore(cp) }) }

	rb, err := cp.Marshal()
	if err != nil {
		rollback()
		return err
	}
	m.Rollback = rb

	s.dedup.Track(dedup.KindFor(m.Kind), m.TargetID)
	if _, err := s.queue.Enqueue(ctx, m); err != nil {
		rollback()
		return fmt.Errorf("queue %s of %s: %w", m.Kind, m.TargetID, err)
	}
	return nil
}

// Create synthesizes the record locally, shows it at the head of every
// matching list and queues its insertion. An empty input id is replaced
// with a fresh UUID.
func (s *RecordService) Create(ctx context.Context, in models.NewRecordInput) (models.Record, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if err := in.Validate(); err != nil {
		return models.Record{}, err
	}

	now := s.now().UTC()
	rec := in.Build(now)
	m, err := models.NewMutation(models.MutationCreate, rec.ID, models.CreatePayload{Record: rec}, now)
	if err != nil {
		return models.Record{}, err
	}

	err = s.apply(ctx, m, func(tx *cache.Tx) error {
		if _, ok := tx.Find(rec.ID); ok {
			return fmt.Errorf("%w: record %s already exists", common.ErrorValidation, rec.ID)
		}
		tx.InsertHead(rec)
		return nil
	})
	if err != nil {
		return models.Record{}, err
	}
	s.log.Info(ctx, "record created", "id", rec.ID)
	return rec, nil
}

// Update merges p into every cached view of id and queues it.
func (s *RecordService) Update(ctx context.Context, id string, p models.Patch) (models.Record, error) {
	if err := p.Validate(); err != nil {
		return models.Record{}, err
	}
	now := s.now().UTC()
	m, err := models.NewMutation(models.MutationUpdate, id, models.UpdatePayload{Patch: p}, now)
	if err != nil {
		return models.Record{}, err
	}
	return s.patch(ctx, m, p, now)
}

// ChangeStatus is an update whose consumption timestamp is fixed now, when
// the user acts, rather than when the mutation reaches the server.
func (s *RecordService) ChangeStatus(ctx context.Context, id string, status models.Status) (models.Record, error) {
	if !status.Valid() {
		return models.Record{}, fmt.Errorf("%w: unknown status %q", common.ErrorValidation, status)
	}
	now := s.now().UTC()
	payload := models.StatusPayload{Status: status, ChangedAt: now}
	m, err := models.NewMutation(models.MutationStatus, id, payload, now)
	if err != nil {
		return models.Record{}, err
	}
	return s.patch(ctx, m, payload.Patch(), now)
}

func (s *RecordService) patch(ctx context.Context, m models.Mutation, p models.Patch, now time.Time) (models.Record, error) {
	var next models.Record
	err := s.apply(ctx, m, func(tx *cache.Tx) error {
		r, ok := tx.Patch(m.TargetID, p, now)
		if !ok {
			return fmt.Errorf("%w: record %s", common.ErrorNotFound, m.TargetID)
		}
		next = r
		return nil
	})
	return next, err
}

// Delete removes id from every cached view and queues the deletion. The
// remote row is soft-deleted unless hard is set.
func (s *RecordService) Delete(ctx context.Context, id string, hard bool) error {
	cur, ok := s.cache.Find(id)
	if !ok {
		return fmt.Errorf("%w: record %s", common.ErrorNotFound, id)
	}
	now := s.now().UTC()
	m, err := models.NewMutation(models.MutationDelete, id,
		models.DeletePayload{Hard: hard, Name: cur.Name, DeletedAt: now}, now)
	if err != nil {
		return err
	}
	if !hard {
		// A soft delete reaches the server as an update of deleted_at.
		s.dedup.Track(dedup.KindUpdate, id)
	}
	return s.apply(ctx, m, func(tx *cache.Tx) error {
		tx.Remove(id)
		return nil
	})
}

// StageImage stores an image locally and returns its pending:// reference.
func (s *RecordService) StageImage(ctx context.Context, data []byte, mimeType, originalName string) (string, error) {
	b, err := s.blobs.Save(ctx, data, mimeType, originalName)
	if err != nil {
		return "", err
	}
	return blobstore.PendingURI(b.ID), nil
}

// AttachImage stages the image and points the record at it. The upload
// happens when the update is replayed.
func (s *RecordService) AttachImage(ctx context.Context, id string, data []byte, mimeType, originalName string) (models.Record, error) {
	ref, err := s.StageImage(ctx, data, mimeType, originalName)
	if err != nil {
		return models.Record{}, err
	}
	rec, err := s.Update(ctx, id, models.Patch{ImageRef: &ref})
	if err != nil {
		if blobID, ok := blobstore.ParsePendingURI(ref); ok {
			if derr := s.blobs.Delete(ctx, blobID); derr != nil {
				s.log.Warn(ctx, "failed to drop staged image", "blob", blobID, "error", derr)
			}
		}
		return models.Record{}, err
	}
	return rec, nil
}

// List returns the cached view for q, refetching it when absent or stale.
// When the remote store cannot be reached the cached view is returned as is.
func (s *RecordService) List(ctx context.Context, q cache.ListQuery) (cache.ListView, error) {
	if v, ok := s.cache.List(q); ok && !v.Stale {
		return v, nil
	}
	v, err := s.Refresh(ctx, q)
	if err == nil {
		return v, nil
	}
	if cached, ok := s.cache.List(q); ok {
		s.log.Debug(ctx, "serving cached list", "query", q.Key(), "error", err)
		return cached, nil
	}
	if !errors.Is(err, client.ErrUnavailable) && !errors.Is(err, client.ErrUnauthorized) {
		return cache.ListView{}, err
	}

	// Nothing cached and offline: seed the view from queued creates so
	// later optimistic writes have a list to land in.
	s.cache.SetList(q, applyPending(nil, s.queue.Pending(), q.Matches))
	s.cache.Invalidate(func(k cache.Key) bool { return k.Kind == cache.KindList && k.List.Key() == q.Key() })
	cached, _ := s.cache.List(q)
	return cached, nil
}

// Refresh fetches q from the remote store, overlays queued mutations and
// stores the result.
func (s *RecordService) Refresh(ctx context.Context, q cache.ListQuery) (cache.ListView, error) {
	rows, err := s.remote.List(ctx, client.ListFilter{
		UserID:   q.UserID,
		GroupID:  q.GroupID,
		Status:   q.Status,
		Location: q.Location,
	})
	if err != nil {
		return cache.ListView{}, err
	}
	s.cache.SetList(q, applyPending(rows, s.queue.Pending(), q.Matches))
	v, _ := s.cache.List(q)
	return v, nil
}

// Get returns one record, from the detail view when it is fresh.
func (s *RecordService) Get(ctx context.Context, id string) (models.Record, error) {
	if d, ok := s.cache.Detail(id); ok && !d.Stale {
		if d.Record == nil {
			return models.Record{}, fmt.Errorf("%w: record %s", common.ErrorNotFound, id)
		}
		return *d.Record, nil
	}

	if err := s.refreshDetail(ctx, id); err != nil {
		if errors.Is(err, client.ErrUnavailable) || errors.Is(err, client.ErrUnauthorized) {
			if r, ok := s.cache.Find(id); ok {
				return r, nil
			}
		}
		return models.Record{}, err
	}
	d, _ := s.cache.Detail(id)
	if d.Record == nil {
		return models.Record{}, fmt.Errorf("%w: record %s", common.ErrorNotFound, id)
	}
	return *d.Record, nil
}

func (s *RecordService) refreshDetail(ctx context.Context, id string) error {
	var rows []models.Record
	row, err := s.remote.Get(ctx, id)
	switch {
	case err == nil:
		rows = append(rows, row)
	case errors.Is(err, client.ErrNotFound):
	default:
		return err
	}

	merged := applyPending(rows, pendingFor(s.queue.Pending(), id), nil)
	if len(merged) == 0 {
		s.cache.SetDetail(id, nil)
		return nil
	}
	s.cache.SetDetail(id, &merged[0])
	return nil
}

// RefreshStale refetches every stale view. It stops at the first
// connectivity error.
func (s *RecordService) RefreshStale(ctx context.Context) error {
	var errs []error
	for _, q := range s.cache.Lists() {
		v, ok := s.cache.List(q)
		if !ok || !v.Stale {
			continue
		}
		if _, err := s.Refresh(ctx, q); err != nil {
			if errors.Is(err, client.ErrUnavailable) {
				return err
			}
			errs = append(errs, fmt.Errorf("refresh %s: %w", q.Key(), err))
		}
	}
	for _, id := range s.cache.Details() {
		d, ok := s.cache.Detail(id)
		if !ok || !d.Stale {
			continue
		}
		if err := s.refreshDetail(ctx, id); err != nil {
			if errors.Is(err, client.ErrUnavailable) {
				return err
			}
			errs = append(errs, fmt.Errorf("refresh detail %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
