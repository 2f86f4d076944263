package reporting

import (
	"context"
	"errors"
	"time"

	"tablecall/internal/customers"
	"tablecall/internal/journal"
)

var ErrInvalidRange = errors.New("reporting: invalid time range")

// JournalSource is the slice of the journal the reports need.
type JournalSource interface {
	ListRange(ctx context.Context, from, to time.Time) ([]journal.Entry, error)
}

type Service struct {
	store   customers.Store
	journal JournalSource
}

func NewService(store customers.Store, src JournalSource) *Service {
	return &Service{store: store, journal: src}
}

func (s *Service) OutreachSummary(ctx context.Context, rng TimeRange) (OutreachSummary, error) {
	if rng.From.IsZero() || rng.To.IsZero() || !rng.To.After(rng.From) {
		return OutreachSummary{}, ErrInvalidRange
	}
	if s.store == nil || s.journal == nil {
		return OutreachSummary{}, errors.New("reporting: sources not configured")
	}

	recs, err := s.store.List(ctx)
	if err != nil {
		return OutreachSummary{}, err
	}

	out := OutreachSummary{Range: rng}
	for _, c := range recs {
		out.TotalCustomers++
		if c.CallInFlight {
			out.InFlightCalls++
		}
		switch c.Status {
		case customers.StatusNew:
			out.New++
		case customers.StatusCalled:
			out.Called++
		case customers.StatusOrderConfirmed:
			out.OrderConfirmed++
		case customers.StatusArrived:
			out.Arrived++
		case customers.StatusNoShow:
			out.NoShow++
		case customers.StatusFollowUpPending:
			out.FollowUpPending++
		case customers.StatusResolved:
			out.Resolved++
		}
	}

	events, err := s.journal.ListRange(ctx, rng.From, rng.To)
	if err != nil {
		return OutreachSummary{}, err
	}
	for _, e := range events {
		switch e.Event {
		case journal.EventCallDispatched:
			out.CallsDispatched++
		case journal.EventCallCompleted:
			out.CallsCompleted++
		case journal.EventCallFailed, journal.EventDispatchFailed:
			out.CallsFailed++
		case journal.EventExtractionFailed:
			out.ExtractionFailures++
		case journal.EventNotificationSent:
			out.NotificationsSent++
		}
	}

	settled := out.Arrived + out.NoShow + out.Resolved
	if out.TotalCustomers > 0 {
		out.ConfirmationRate = float64(out.OrderConfirmed+settled) / float64(out.TotalCustomers)
	}
	if settled > 0 {
		out.ShowRate = float64(out.Arrived) / float64(settled)
	}
	return out, nil
}
