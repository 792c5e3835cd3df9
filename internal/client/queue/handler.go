package queue

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

// Handler replays one mutation kind. Handlers are registered by kind at
// startup because code cannot be persisted with the queue.
type Handler interface {
	// Execute performs the remote write. Its error is classified to decide
	// whether the mutation stays queued.
	Execute(ctx context.Context, job *Job) (any, error)

	// OnSuccess runs after the mutation has been removed from the queue.
	OnSuccess(ctx context.Context, m models.Mutation, result any)

	// OnFailure runs after a terminal failure removed the mutation.
	OnFailure(ctx context.Context, m models.Mutation, err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil callbacks are skipped.
type HandlerFuncs struct {
	ExecuteFunc   func(ctx context.Context, job *Job) (any, error)
	OnSuccessFunc func(ctx context.Context, m models.Mutation, result any)
	OnFailureFunc func(ctx context.Context, m models.Mutation, err error)
}

func (h HandlerFuncs) Execute(ctx context.Context, job *Job) (any, error) {
	return h.ExecuteFunc(ctx, job)
}

func (h HandlerFuncs) OnSuccess(ctx context.Context, m models.Mutation, result any) {
	if h.OnSuccessFunc != nil {
		h.OnSuccessFunc(ctx, m, result)
	}
}

func (h HandlerFuncs) OnFailure(ctx context.Context, m models.Mutation, err error) {
	if h.OnFailureFunc != nil {
		h.OnFailureFunc(ctx, m, err)
	}
}

// Job is the mutation being replayed.
type Job struct {
	q *Queue
	m models.Mutation
}

// Mutation returns the current state of the mutation, including payload
// rewrites made during this attempt.
func (j *Job) Mutation() models.Mutation { return j.m }

// Rewrite replaces the payload and persists it before returning, so work
// already done (an upload, say) is not repeated after a crash.
func (j *Job) Rewrite(ctx context.Context, payload json.RawMessage) error {
	if err := j.q.rewrite(ctx, j.m.ID, payload); err != nil {
		return err
	}
	j.m.Payload = payload
	return nil
}
