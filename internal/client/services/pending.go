package services

import (
	"slices"

	"github.com/dmitrijs2005/pantrysync/internal/client/cache"
	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

func pendingFor(ms []models.Mutation, id string) []models.Mutation {
	return slices.DeleteFunc(ms, func(m models.Mutation) bool { return m.TargetID != id })
}

// applyPending replays queued, not yet acknowledged mutations on top of
// server rows so a refetch does not hide local changes. keep filters the
// result; nil keeps every live record.
func applyPending(rows []models.Record, pending []models.Mutation, keep func(models.Record) bool) []models.Record {
	out := slices.Clone(rows)
	for _, m := range pending {
		v, err := m.Decode()
		if err != nil {
			continue
		}
		i := slices.IndexFunc(out, func(r models.Record) bool { return r.ID == m.TargetID })
		switch p := v.(type) {
		case models.CreatePayload:
			if i < 0 {
				out = slices.Insert(out, 0, p.Record)
			}
		case models.UpdatePayload:
			if i >= 0 {
				out[i] = p.Patch.Apply(out[i], m.EnqueuedAt)
			}
		case models.StatusPayload:
			if i >= 0 {
				out[i] = p.Patch().Apply(out[i], m.EnqueuedAt)
			}
		case models.DeletePayload:
			if i >= 0 {
				out = slices.Delete(out, i, i+1)
			}
		}
	}
	if keep == nil {
		keep = func(r models.Record) bool { return !r.Deleted() }
	}
	return slices.DeleteFunc(out, func(r models.Record) bool { return !keep(r) })
}

// reapply puts the optimistic effect of still-queued mutations back into the
// cache after a restore or a server row replaced the record.
func reapply(tx *cache.Tx, pending []models.Mutation) {
	for _, m := range pending {
		v, err := m.Decode()
		if err != nil {
			continue
		}
		switch p := v.(type) {
		case models.CreatePayload:
			tx.InsertHead(p.Record)
		case models.UpdatePayload:
			tx.Patch(m.TargetID, p.Patch, m.EnqueuedAt)
		case models.StatusPayload:
			tx.Patch(m.TargetID, p.Patch(), m.EnqueuedAt)
		case models.DeletePayload:
			tx.Remove(m.TargetID)
		}
	}
}
