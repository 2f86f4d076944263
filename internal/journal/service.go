package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for journal entries. Append-only:
// entries are never updated or deleted.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	ListByCustomer(ctx context.Context, customerID string) ([]Entry, error)
	// ListRange returns entries with CreatedAt in [from, to).
	ListRange(ctx context.Context, from, to time.Time) ([]Entry, error)
}

// Service records customer lifecycle events.
//
// Callers should treat journal writes as best-effort: log the error and
// continue. The journal explains what happened to a customer; it never
// gates what happens next.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEntry = errors.New("journal: invalid entry")

func (s *Service) Append(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return errors.New("journal: repository not configured")
	}
	if e.CustomerID == "" {
		return ErrInvalidEntry
	}
	if e.Event == "" {
		return ErrInvalidEntry
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Entry, error) {
	if s.repo == nil {
		return nil, errors.New("journal: repository not configured")
	}
	return s.repo.ListByCustomer(ctx, customerID)
}

func (s *Service) ListRange(ctx context.Context, from, to time.Time) ([]Entry, error) {
	if s.repo == nil {
		return nil, errors.New("journal: repository not configured")
	}
	return s.repo.ListRange(ctx, from, to)
}

// LogStatusChange records a status transition applied to a customer.
func (s *Service) LogStatusChange(ctx context.Context, customerID, from, to, callID string) error {
	return s.Append(ctx, Entry{
		CustomerID: customerID,
		Event:      EventStatusChanged,
		CallID:     callID,
		Detail:     fmt.Sprintf("%s -> %s", from, to),
	})
}

// LogDispatch records a successful call submission.
func (s *Service) LogDispatch(ctx context.Context, customerID, callID, flow string) error {
	return s.Append(ctx, Entry{
		CustomerID: customerID,
		Event:      EventCallDispatched,
		CallID:     callID,
		Flow:       flow,
	})
}
