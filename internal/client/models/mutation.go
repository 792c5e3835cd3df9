package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MutationKind selects the handler that replays a queued mutation.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
	MutationStatus MutationKind = "status"
)

// Mutation is a queued write. Only data lives here; the code that replays
// it is looked up by Kind at resume time.
type Mutation struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Kind       MutationKind    `json:"kind"`
	TargetID   string          `json:"target_id"`
	Payload    json.RawMessage `json:"payload"`
	Rollback   json.RawMessage `json:"rollback,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
}

// CreatePayload carries the fully synthesized record.
type CreatePayload struct {
	Record Record `json:"record"`
}

type UpdatePayload struct {
	Patch Patch `json:"patch"`
}

// DeletePayload soft-deletes by default. Name is kept for user messages.
type DeletePayload struct {
	Hard      bool      `json:"hard,omitempty"`
	Name      string    `json:"name,omitempty"`
	DeletedAt time.Time `json:"deleted_at"`
}

// StatusPayload stores the status and the moment it was chosen, so a replay
// hours later still records the original consumption time.
type StatusPayload struct {
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

func (p StatusPayload) Patch() Patch { return StatusPatch(p.Status, p.ChangedAt) }

// NewMutation serializes payload into a mutation of the given kind.
func NewMutation[T any](kind MutationKind, targetID string, payload T, now time.Time) (Mutation, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Mutation{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Mutation{Kind: kind, TargetID: targetID, Payload: b, EnqueuedAt: now}, nil
}

// DecodePayload unmarshals the mutation payload into T.
func DecodePayload[T any](m Mutation) (T, error) {
	var v T
	if err := json.Unmarshal(m.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload for %s: %w", m.Kind, m.TargetID, err)
	}
	return v, nil
}

// Decode returns the typed payload matching Kind.
func (m Mutation) Decode() (any, error) {
	switch m.Kind {
	case MutationCreate:
		return DecodePayload[CreatePayload](m)
	case MutationUpdate:
		return DecodePayload[UpdatePayload](m)
	case MutationDelete:
		return DecodePayload[DeletePayload](m)
	case MutationStatus:
		return DecodePayload[StatusPayload](m)
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

// ImageRef returns the image reference carried by the payload, if any.
func (m Mutation) ImageRef() string {
	v, err := m.Decode()
	if err != nil {
		return ""
	}
	switch p := v.(type) {
	case CreatePayload:
		return p.Record.ImageRef
	case UpdatePayload:
		if p.Patch.ImageRef != nil {
			return *p.Patch.ImageRef
		}
	}
	return ""
}
