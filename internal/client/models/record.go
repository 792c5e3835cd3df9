// Package models defines the pantry record, its partial updates, queued
// mutations and pending image blobs.
package models

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/common"
	"github.com/go-playground/validator/v10"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusActive   Status = "active"
	StatusConsumed Status = "consumed"
	StatusExpired  Status = "expired"
	StatusWasted   Status = "wasted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusConsumed, StatusExpired, StatusWasted:
		return true
	}
	return false
}

// Location is where the item is stored.
type Location string

const (
	LocationFridge  Location = "fridge"
	LocationFreezer Location = "freezer"
	LocationPantry  Location = "pantry"
	LocationOther   Location = "other"
)

func (l Location) Valid() bool {
	switch l {
	case LocationFridge, LocationFreezer, LocationPantry, LocationOther:
		return true
	}
	return false
}

// Record is a tracked pantry item. The id is generated on the client so the
// same value survives offline creation and remote insertion.
type Record struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	ExpiresAt  *time.Time `json:"expiry_date,omitempty"`
	Quantity   float64    `json:"quantity"`
	Unit       string     `json:"unit,omitempty"`
	Location   Location   `json:"location"`
	Note       string     `json:"note,omitempty"`
	ImageRef   string     `json:"image_ref,omitempty"`
	Status     Status     `json:"status"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	UserID     string     `json:"user_id"`
	GroupID    string     `json:"group_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Deleted reports whether the record carries a soft-delete timestamp.
func (r Record) Deleted() bool { return r.DeletedAt != nil }

// HasPendingImage reports whether ImageRef points at a local blob.
func (r Record) HasPendingImage() bool {
	return strings.HasPrefix(r.ImageRef, common.PendingScheme)
}

// NewRecordInput carries user-entered fields for a new record.
type NewRecordInput struct {
	ID        string     `validate:"omitempty,uuid"`
	Name      string     `validate:"required,max=120"`
	ExpiresAt *time.Time `validate:"required"`
	Quantity  float64    `validate:"gte=0"`
	Unit      string     `validate:"max=16"`
	Location  Location   `validate:"omitempty,oneof=fridge freezer pantry other"`
	Note      string     `validate:"max=1000"`
	ImageRef  string
	UserID    string `validate:"required"`
	GroupID   string
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the input and wraps failures in common.ErrorValidation.
func (in NewRecordInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if err := getValidator().Struct(in); err != nil {
		return fmt.Errorf("%w: %s", common.ErrorValidation, err.Error())
	}
	return nil
}

// Build turns a validated input into a record stamped with now. The id must
// already be set.
func (in NewRecordInput) Build(now time.Time) Record {
	loc := in.Location
	if loc == "" {
		loc = LocationPantry
	}
	return Record{
		ID:        in.ID,
		Name:      strings.TrimSpace(in.Name),
		ExpiresAt: in.ExpiresAt,
		Quantity:  in.Quantity,
		Unit:      in.Unit,
		Location:  loc,
		Note:      in.Note,
		ImageRef:  in.ImageRef,
		Status:    StatusActive,
		UserID:    in.UserID,
		GroupID:   in.GroupID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
