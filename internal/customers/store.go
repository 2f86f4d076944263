package customers

import (
	"context"
	"time"
)

// Store is the persistence contract for customer records.
//
// All mutations are atomic with respect to a single record: a concurrent
// Update and Get never observe a half-written record. List returns records
// in insertion order so periodic scans see a stable sequence.
type Store interface {
	Create(ctx context.Context, c Customer) error
	Get(ctx context.Context, id string) (Customer, error)
	List(ctx context.Context) ([]Customer, error)
	// Update applies the patch to the record and returns the updated copy.
	// Returns ErrNotFound if the id does not exist.
	Update(ctx context.Context, id string, p Patch) (Customer, error)
}

// Patch is a partial update to one customer record. Nil fields are left
// unchanged. Callers express intent field by field instead of writing whole
// records, so two writers touching different fields cannot clobber each
// other.
type Patch struct {
	Name   *string
	Mobile *string
	Email  *string

	Status *Status

	OrderDetails        *string
	ExpectedArrivalTime *time.Time
	ArrivalConfirmed    *bool

	LastCallTime *time.Time
	LastCallID   *string

	Remarks *string

	CallInFlight *bool
	CallAttempts *int
	Notified     *bool
}

// apply mutates a copy of c with every set field and stamps UpdatedAt.
func (p Patch) apply(c Customer, now time.Time) Customer {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Mobile != nil {
		c.Mobile = *p.Mobile
	}
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.OrderDetails != nil {
		c.OrderDetails = *p.OrderDetails
	}
	if p.ExpectedArrivalTime != nil {
		t := *p.ExpectedArrivalTime
		c.ExpectedArrivalTime = &t
	}
	if p.ArrivalConfirmed != nil {
		c.ArrivalConfirmed = *p.ArrivalConfirmed
	}
	if p.LastCallTime != nil {
		t := *p.LastCallTime
		c.LastCallTime = &t
	}
	if p.LastCallID != nil {
		c.LastCallID = *p.LastCallID
	}
	if p.Remarks != nil {
		c.Remarks = *p.Remarks
	}
	if p.CallInFlight != nil {
		c.CallInFlight = *p.CallInFlight
	}
	if p.CallAttempts != nil {
		c.CallAttempts = *p.CallAttempts
	}
	if p.Notified != nil {
		c.Notified = *p.Notified
	}
	c.UpdatedAt = now
	return c
}

// Helpers for building patches without local pointer boilerplate.

func StringPtr(s string) *string     { return &s }
func StatusPtr(s Status) *Status     { return &s }
func BoolPtr(b bool) *bool           { return &b }
func IntPtr(i int) *int              { return &i }
func TimePtr(t time.Time) *time.Time { return &t }
