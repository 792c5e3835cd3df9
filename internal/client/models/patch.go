package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/common"
)

// Patch is a partial update. Nil fields are left unchanged; the Clear flags
// reset optional timestamps.
type Patch struct {
	Name            *string    `json:"name,omitempty"`
	ExpiresAt       *time.Time `json:"expiry_date,omitempty"`
	ClearExpiry     bool       `json:"clear_expiry,omitempty"`
	Quantity        *float64   `json:"quantity,omitempty"`
	Unit            *string    `json:"unit,omitempty"`
	Location        *Location  `json:"location,omitempty"`
	Note            *string    `json:"note,omitempty"`
	ImageRef        *string    `json:"image_ref,omitempty"`
	Status          *Status    `json:"status,omitempty"`
	ConsumedAt      *time.Time `json:"consumed_at,omitempty"`
	ClearConsumedAt bool       `json:"clear_consumed_at,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// StatusPatch builds the patch for a status change. Moving to consumed
// stamps ConsumedAt with at; moving back to active clears it.
func StatusPatch(status Status, at time.Time) Patch {
	p := Patch{Status: &status}
	switch status {
	case StatusConsumed:
		p.ConsumedAt = &at
	case StatusActive:
		p.ClearConsumedAt = true
	}
	return p
}

func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.ExpiresAt == nil && !p.ClearExpiry && p.Quantity == nil &&
		p.Unit == nil && p.Location == nil && p.Note == nil && p.ImageRef == nil &&
		p.Status == nil && p.ConsumedAt == nil && !p.ClearConsumedAt && p.DeletedAt == nil
}

func (p Patch) Validate() error {
	if p.IsEmpty() {
		return fmt.Errorf("%w: empty patch", common.ErrorValidation)
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", common.ErrorValidation)
	}
	if p.Quantity != nil && *p.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", common.ErrorValidation)
	}
	if p.Location != nil && !p.Location.Valid() {
		return fmt.Errorf("%w: unknown location %q", common.ErrorValidation, *p.Location)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", common.ErrorValidation, *p.Status)
	}
	return nil
}

// Apply returns a copy of r with the patch applied and UpdatedAt set to now.
func (p Patch) Apply(r Record, now time.Time) Record {
	if p.Name != nil {
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.ClearExpiry {
		r.ExpiresAt = nil
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		r.ExpiresAt = &t
	}
	if p.Quantity != nil {
		r.Quantity = *p.Quantity
	}
	if p.Unit != nil {
		r.Unit = *p.Unit
	}
	if p.Location != nil {
		r.Location = *p.Location
	}
	if p.Note != nil {
		r.Note = *p.Note
	}
	if p.ImageRef != nil {
		r.ImageRef = *p.ImageRef
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ClearConsumedAt {
		r.ConsumedAt = nil
	}
	if p.ConsumedAt != nil {
		t := *p.ConsumedAt
		r.ConsumedAt = &t
	}
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		r.DeletedAt = &t
	}
	r.UpdatedAt = now
	return r
}
