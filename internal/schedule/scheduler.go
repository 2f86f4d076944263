package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tablecall/internal/customers"
	"tablecall/internal/extraction"
	"tablecall/internal/journal"
	"tablecall/internal/notify"
	"tablecall/internal/voice"
)

var (
	// ErrCallInFlight rejects a trigger while an earlier call's outcome is
	// still unresolved.
	ErrCallInFlight = errors.New("a call is already in flight for the customer")
	// ErrNotEligible rejects a trigger for a status no flow applies to.
	ErrNotEligible = errors.New("no call flow applies to the customer's status")

	errNotDue = errors.New("record no longer due")
)

// exhaustedNote lands in remarks when a record runs out of call attempts,
// so staff scanning the list see why the calls stopped.
const exhaustedNote = "call attempts exhausted, awaiting staff follow-up"

// CallDispatcher submits one call for a customer.
type CallDispatcher interface {
	Dispatch(ctx context.Context, c customers.Customer, flow voice.Flow) (voice.CallSubmission, error)
}

// OutcomeSource reports the state of a previously submitted call.
type OutcomeSource interface {
	CallOutcome(ctx context.Context, callID string) (voice.CallOutcome, error)
}

// Extractor turns a completed call payload into reservation facts.
type Extractor interface {
	Extract(ctx context.Context, flow voice.Flow, payload json.RawMessage, completedAt time.Time) (extraction.Result, error)
}

type Config struct {
	// CallSweepInterval paces the call-trigger sweep.
	CallSweepInterval time.Duration
	// ResultSweepInterval paces the outcome poll and notification sweep.
	ResultSweepInterval time.Duration
	// SweepParallelism bounds concurrent per-record work inside a sweep.
	SweepParallelism int
	// UnitTimeout bounds one record's dispatch or poll, provider call
	// included.
	UnitTimeout time.Duration
	// StaleCallAfter fails an in-flight call whose outcome never arrives.
	StaleCallAfter time.Duration

	Rules Rules
}

func (c Config) withDefaults() Config {
	out := c
	if out.CallSweepInterval <= 0 {
		out.CallSweepInterval = 5 * time.Minute
	}
	if out.ResultSweepInterval <= 0 {
		out.ResultSweepInterval = 2 * time.Minute
	}
	if out.SweepParallelism <= 0 {
		out.SweepParallelism = 4
	}
	if out.UnitTimeout <= 0 {
		out.UnitTimeout = time.Minute
	}
	if out.StaleCallAfter <= 0 {
		out.StaleCallAfter = 30 * time.Minute
	}
	out.Rules = out.Rules.withDefaults()
	return out
}

// Deps are the collaborators a Scheduler drives. Store and Dispatcher are
// required; the rest degrade gracefully when absent.
type Deps struct {
	Store      customers.Store
	Dispatcher CallDispatcher
	Outcomes   OutcomeSource
	Extractor  Extractor
	Sender     notify.Sender
	Journal    *journal.Service
	Slots      *SlotGate
	Log        *slog.Logger
}

// Scheduler owns the two periodic sweeps and every status transition.
//
// Invariants:
//   - At most one call is in flight per customer. The persisted
//     CallInFlight flag guards across restarts and instances; the local
//     claim set guards a sweep racing a manual trigger in-process.
//   - Sweeps are idempotent: re-running one against an unchanged store
//     dispatches no additional calls and sends no additional mail.
//   - One record's failure never aborts the sweep for the others.
type Scheduler struct {
	cfg        Config
	store      customers.Store
	dispatcher CallDispatcher
	outcomes   OutcomeSource
	extractor  Extractor
	sender     notify.Sender
	journal    *journal.Service
	slots      *SlotGate
	log        *slog.Logger
	clock      func() time.Time

	mu      sync.Mutex
	claimed map[string]struct{}
}

func New(cfg Config, deps Deps) *Scheduler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		outcomes:   deps.Outcomes,
		extractor:  deps.Extractor,
		sender:     deps.Sender,
		journal:    deps.Journal,
		slots:      deps.Slots,
		log:        log,
		clock:      time.Now,
		claimed:    make(map[string]struct{}),
	}
}

// Run drives both sweeps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	callTicker := time.NewTicker(s.cfg.CallSweepInterval)
	defer callTicker.Stop()
	resultTicker := time.NewTicker(s.cfg.ResultSweepInterval)
	defer resultTicker.Stop()

	s.log.Info("scheduler started",
		"call_sweep", s.cfg.CallSweepInterval.String(),
		"result_sweep", s.cfg.ResultSweepInterval.String(),
	)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-callTicker.C:
			if n, err := s.SweepCalls(ctx); err != nil {
				s.log.Error("call sweep failed", "error", err)
			} else if n > 0 {
				s.log.Info("call sweep done", "dispatched", n)
			}
		case <-resultTicker.C:
			if err := s.SweepResults(ctx); err != nil {
				s.log.Error("result sweep failed", "error", err)
			}
		}
	}
}

// SweepCalls runs one call-trigger tick: snapshot the store, evaluate the
// rules, dispatch for every due record. Returns how many calls went out.
func (s *Scheduler) SweepCalls(ctx context.Context) (int, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list customers: %w", err)
	}
	now := s.clock().UTC()

	var placed int64
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.SweepParallelism)
	for _, rec := range recs {
		decision, due := s.cfg.Rules.Evaluate(rec, now)
		if !due {
			continue
		}
		rec := rec
		g.Go(func() error {
			uctx, cancel := context.WithTimeout(ctx, s.cfg.UnitTimeout)
			defer cancel()
			_, err := s.placeCall(uctx, rec.ID, decision.Flow, true)
			switch {
			case err == nil:
				atomic.AddInt64(&placed, 1)
			case errors.Is(err, errNotDue), errors.Is(err, ErrCallInFlight):
				// Another path got there first.
			default:
				s.log.Warn("dispatch failed",
					"customer_id", rec.ID, "flow", decision.Flow, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	return int(placed), nil
}

// placeCall claims the record, re-checks eligibility under the claim, and
// submits the call. recheck re-runs the due rules; a manual trigger skips
// them and only honors the in-flight guard.
func (s *Scheduler) placeCall(ctx context.Context, id string, flow voice.Flow, recheck bool) (voice.CallSubmission, error) {
	if !s.claim(id) {
		return voice.CallSubmission{}, ErrCallInFlight
	}
	defer s.unclaim(id)

	if s.slots != nil {
		release, ok, err := s.slots.Acquire(ctx)
		if err != nil {
			return voice.CallSubmission{}, fmt.Errorf("call slot: %w", err)
		}
		if !ok {
			return voice.CallSubmission{}, fmt.Errorf("%w: no call slots free", errNotDue)
		}
		defer func() {
			if err := release(); err != nil {
				s.log.Warn("call slot release failed", "error", err)
			}
		}()
	}

	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return voice.CallSubmission{}, err
	}
	if fresh.CallInFlight {
		return voice.CallSubmission{}, ErrCallInFlight
	}
	now := s.clock().UTC()
	if recheck {
		decision, due := s.cfg.Rules.Evaluate(fresh, now)
		if !due || decision.Flow != flow {
			return voice.CallSubmission{}, errNotDue
		}
	}

	claimed, err := s.store.Update(ctx, fresh.ID, customers.Patch{
		CallInFlight: customers.BoolPtr(true),
		CallAttempts: customers.IntPtr(fresh.CallAttempts + 1),
		LastCallTime: customers.TimePtr(now),
	})
	if err != nil {
		return voice.CallSubmission{}, fmt.Errorf("claim record: %w", err)
	}

	sub, err := s.dispatcher.Dispatch(ctx, claimed, flow)
	if err != nil {
		// Roll the guard back so the record stays eligible; the attempt
		// count keeps the retries bounded.
		rollback := customers.Patch{CallInFlight: customers.BoolPtr(false)}
		if claimed.CallAttempts >= s.cfg.Rules.MaxCallAttempts && !strings.Contains(claimed.Remarks, exhaustedNote) {
			rollback.Remarks = customers.StringPtr(customers.AppendRemark(claimed.Remarks, exhaustedNote))
		}
		if _, rbErr := s.store.Update(ctx, claimed.ID, rollback); rbErr != nil {
			s.log.Error("in-flight rollback failed", "customer_id", claimed.ID, "error", rbErr)
		}
		s.journalAppend(ctx, journal.Entry{
			CustomerID: claimed.ID,
			Event:      journal.EventDispatchFailed,
			Flow:       string(flow),
			Detail:     err.Error(),
		})
		return voice.CallSubmission{}, err
	}

	patch := customers.Patch{LastCallID: customers.StringPtr(sub.CallID)}
	if claimed.Status == customers.StatusNew {
		patch.Status = customers.StatusPtr(customers.StatusCalled)
	}
	if _, err := s.store.Update(ctx, claimed.ID, patch); err != nil {
		return sub, fmt.Errorf("record call id: %w", err)
	}
	if claimed.Status == customers.StatusNew {
		s.journalStatusChange(ctx, claimed.ID, customers.StatusNew, customers.StatusCalled, sub.CallID)
	}
	s.journalDispatch(ctx, claimed.ID, sub.CallID, flow)
	s.log.Info("call dispatched", "customer_id", claimed.ID, "flow", flow, "call_id", sub.CallID)
	return sub, nil
}

// TriggerNow dispatches the flow matching the customer's current status,
// bypassing the schedule gates. The in-flight guard still applies.
func (s *Scheduler) TriggerNow(ctx context.Context, customerID string) (voice.CallSubmission, voice.Flow, error) {
	c, err := s.store.Get(ctx, customerID)
	if err != nil {
		return voice.CallSubmission{}, "", err
	}
	flow := flowForStatus(c.Status)
	if flow == "" {
		return voice.CallSubmission{}, "", fmt.Errorf("%w: %s", ErrNotEligible, c.Status)
	}
	sub, err := s.placeCall(ctx, c.ID, flow, false)
	if err != nil {
		return voice.CallSubmission{}, "", err
	}
	return sub, flow, nil
}

// SweepResults runs one results tick: poll outstanding calls, apply their
// outcomes, then send owed notifications. The notification pass runs after
// the polls so a confirmation earned this tick is mailed this tick.
func (s *Scheduler) SweepResults(ctx context.Context) error {
	recs, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list customers: %w", err)
	}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.SweepParallelism)
	for _, rec := range recs {
		if !rec.CallInFlight {
			continue
		}
		rec := rec
		g.Go(func() error {
			uctx, cancel := context.WithTimeout(ctx, s.cfg.UnitTimeout)
			defer cancel()
			if err := s.pollCall(uctx, rec); err != nil {
				s.log.Warn("outcome poll failed",
					"customer_id", rec.ID, "call_id", rec.LastCallID, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	recs, err = s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list customers: %w", err)
	}
	for _, rec := range recs {
		if kind, owed := notificationOwed(rec); owed {
			s.sendNotification(ctx, rec, kind)
		}
	}
	return nil
}

// pollCall asks the provider where one in-flight call stands.
func (s *Scheduler) pollCall(ctx context.Context, c customers.Customer) error {
	if c.LastCallID == "" {
		// Claimed but never recorded an id; the process died mid-dispatch.
		return s.reapStale(ctx, c)
	}
	if s.outcomes == nil {
		return s.reapStale(ctx, c)
	}

	outcome, err := s.outcomes.CallOutcome(ctx, c.LastCallID)
	if err != nil {
		if errors.Is(err, voice.ErrCallNotFound) {
			return s.reapStale(ctx, c)
		}
		return err
	}
	if outcome.State == voice.CallPending {
		return s.reapStale(ctx, c)
	}
	if outcome.CallID == "" {
		outcome.CallID = c.LastCallID
	}
	return s.processOutcome(ctx, c, outcome)
}

// reapStale fails a call that has been outstanding longer than the stale
// window. Calls inside the window are left alone.
func (s *Scheduler) reapStale(ctx context.Context, c customers.Customer) error {
	if s.cfg.StaleCallAfter <= 0 || c.LastCallTime == nil {
		return nil
	}
	if s.clock().UTC().Sub(*c.LastCallTime) < s.cfg.StaleCallAfter {
		return nil
	}
	return s.failCall(ctx, c, "call outcome never arrived")
}

// failCall clears the guard for a call that produced nothing and leaves
// the reason on the record. The attempt count stays, so the rules back off
// before the next try.
func (s *Scheduler) failCall(ctx context.Context, c customers.Customer, reason string) error {
	remarks := customers.AppendRemark(c.Remarks, reason)
	if c.CallAttempts >= s.cfg.Rules.MaxCallAttempts && !strings.Contains(remarks, exhaustedNote) {
		remarks = customers.AppendRemark(remarks, exhaustedNote)
	}
	if _, err := s.store.Update(ctx, c.ID, customers.Patch{
		CallInFlight: customers.BoolPtr(false),
		Remarks:      customers.StringPtr(remarks),
	}); err != nil {
		return err
	}
	s.journalAppend(ctx, journal.Entry{
		CustomerID: c.ID,
		Event:      journal.EventCallFailed,
		CallID:     c.LastCallID,
		Detail:     reason,
	})
	s.log.Warn("call failed", "customer_id", c.ID, "call_id", c.LastCallID, "reason", reason)
	return nil
}

// HandleOutcome feeds a provider webhook through the same idempotent path
// the polling sweep uses.
func (s *Scheduler) HandleOutcome(ctx context.Context, customerID string, outcome voice.CallOutcome) error {
	c, err := s.store.Get(ctx, customerID)
	if err != nil {
		return err
	}
	return s.processOutcome(ctx, c, outcome)
}

// processOutcome applies one finished call to the record.
//
// Idempotency: a record with no call in flight, or an outcome naming a
// different call than the one outstanding, is ignored, so the webhook and
// the poller can both deliver the same completion without double effect.
func (s *Scheduler) processOutcome(ctx context.Context, c customers.Customer, outcome voice.CallOutcome) error {
	if !c.CallInFlight {
		s.log.Debug("outcome for settled record ignored", "customer_id", c.ID, "call_id", outcome.CallID)
		return nil
	}
	if outcome.CallID != "" && c.LastCallID != "" && outcome.CallID != c.LastCallID {
		s.log.Warn("outcome for unexpected call ignored",
			"customer_id", c.ID, "call_id", outcome.CallID, "expected", c.LastCallID)
		return nil
	}
	if outcome.State == voice.CallPending {
		// Some proxies push progress events through the result hook. The
		// call stays in flight until a terminal state arrives.
		s.log.Debug("non-terminal outcome ignored", "customer_id", c.ID, "call_id", outcome.CallID)
		return nil
	}
	if outcome.State == voice.CallFailed {
		return s.failCall(ctx, c, "provider reported the call failed")
	}

	flow := outcome.Flow
	if !voice.ValidFlow(flow) {
		flow = flowForStatus(c.Status)
	}
	if flow == "" {
		return s.failCall(ctx, c, fmt.Sprintf("no flow applies to status %s", c.Status))
	}
	if s.extractor == nil {
		return s.failCall(ctx, c, "no extractor configured")
	}

	result, err := s.extractor.Extract(ctx, flow, outcome.Payload, outcome.CompletedAt)
	if err != nil {
		// Status stays put; note the failure and free the guard so a later
		// sweep or a manual trigger can retry.
		remark := customers.AppendRemark(c.Remarks,
			fmt.Sprintf("extraction failed for call %s", c.LastCallID))
		if _, uErr := s.store.Update(ctx, c.ID, customers.Patch{
			CallInFlight: customers.BoolPtr(false),
			Remarks:      customers.StringPtr(remark),
		}); uErr != nil {
			return uErr
		}
		s.journalAppend(ctx, journal.Entry{
			CustomerID: c.ID,
			Event:      journal.EventExtractionFailed,
			CallID:     c.LastCallID,
			Flow:       string(flow),
			Detail:     err.Error(),
		})
		s.log.Warn("extraction failed", "customer_id", c.ID, "call_id", c.LastCallID, "error", err)
		return nil
	}

	s.journalAppend(ctx, journal.Entry{
		CustomerID: c.ID,
		Event:      journal.EventCallCompleted,
		CallID:     outcome.CallID,
		Flow:       string(flow),
		Detail:     string(result.Source),
	})
	return s.applyResult(ctx, c, flow, result)
}

// applyResult maps an extraction result onto the lifecycle table.
func (s *Scheduler) applyResult(ctx context.Context, c customers.Customer, flow voice.Flow, result extraction.Result) error {
	settle := customers.BoolPtr(false)
	fresh := customers.IntPtr(0)

	switch flow {
	case voice.FlowOrderBooking:
		return s.transition(ctx, c, customers.Patch{
			Status:              customers.StatusPtr(customers.StatusOrderConfirmed),
			OrderDetails:        customers.StringPtr(result.OrderDetails),
			ExpectedArrivalTime: result.ExpectedArrivalTime,
			CallInFlight:        settle,
			CallAttempts:        fresh,
		})

	case voice.FlowArrivalConfirmation:
		switch result.ArrivalOutcome {
		case extraction.ArrivalArrived:
			return s.transition(ctx, c, customers.Patch{
				Status:           customers.StatusPtr(customers.StatusArrived),
				ArrivalConfirmed: customers.BoolPtr(true),
				CallInFlight:     settle,
				CallAttempts:     fresh,
			})
		case extraction.ArrivalOnTheWay:
			// No transition. A fresh estimate pushes the next check out,
			// and the attempt count keeps the re-checks bounded.
			patch := customers.Patch{CallInFlight: settle}
			if result.ExpectedArrivalTime != nil {
				patch.ExpectedArrivalTime = result.ExpectedArrivalTime
			}
			_, err := s.store.Update(ctx, c.ID, patch)
			if err == nil {
				s.log.Info("guest on the way", "customer_id", c.ID, "expected", result.ExpectedArrivalTime)
			}
			return err
		case extraction.ArrivalNotComing:
			return s.transition(ctx, c, customers.Patch{
				Status:       customers.StatusPtr(customers.StatusNoShow),
				CallInFlight: settle,
				CallAttempts: fresh,
			})
		}

	case voice.FlowRecovery:
		switch result.RecoveryAction {
		case extraction.RecoveryReschedule:
			patch := customers.Patch{
				Status:       customers.StatusPtr(customers.StatusOrderConfirmed),
				CallInFlight: settle,
				CallAttempts: fresh,
			}
			if result.ExpectedArrivalTime != nil {
				patch.ExpectedArrivalTime = result.ExpectedArrivalTime
			}
			return s.transition(ctx, c, patch)
		case extraction.RecoveryTakeaway:
			patch := customers.Patch{
				Status:       customers.StatusPtr(customers.StatusResolved),
				CallInFlight: settle,
				CallAttempts: fresh,
				// A takeaway confirmation is owed even if the reservation
				// one already went out.
				Notified: customers.BoolPtr(false),
				Remarks:  customers.StringPtr(customers.AppendRemark(c.Remarks, "resolved with a takeaway order")),
			}
			if result.OrderDetails != "" {
				patch.OrderDetails = customers.StringPtr(result.OrderDetails)
			}
			return s.transition(ctx, c, patch)
		case extraction.RecoveryCancel:
			return s.transition(ctx, c, customers.Patch{
				Status:       customers.StatusPtr(customers.StatusResolved),
				CallInFlight: settle,
				CallAttempts: fresh,
				// Nothing to mail; close the notification cycle.
				Notified: customers.BoolPtr(true),
				Remarks:  customers.StringPtr(customers.AppendRemark(c.Remarks, "guest cancelled after the missed visit")),
			})
		}
	}
	return s.failCall(ctx, c, fmt.Sprintf("no usable outcome for flow %s", flow))
}

// transition applies a status-bearing patch after checking the lifecycle
// table. A rejected transition still frees the in-flight guard.
func (s *Scheduler) transition(ctx context.Context, c customers.Customer, patch customers.Patch) error {
	to := *patch.Status
	if !customers.ValidTransition(c.Status, to) {
		s.log.Warn("transition rejected", "customer_id", c.ID, "from", c.Status, "to", to)
		_, err := s.store.Update(ctx, c.ID, customers.Patch{
			CallInFlight: customers.BoolPtr(false),
		})
		return err
	}
	if _, err := s.store.Update(ctx, c.ID, patch); err != nil {
		return err
	}
	if to != c.Status {
		s.journalStatusChange(ctx, c.ID, c.Status, to, c.LastCallID)
		s.log.Info("status changed", "customer_id", c.ID, "from", c.Status, "to", to)
	}
	return nil
}

// notificationOwed decides whether a record has an unsent notification.
// Resolved records owe one only on the takeaway path; the cancel path
// closes the cycle when it lands.
func notificationOwed(c customers.Customer) (notify.Kind, bool) {
	if c.Notified || c.Email == "" || c.CallInFlight {
		return "", false
	}
	switch c.Status {
	case customers.StatusOrderConfirmed:
		return notify.KindReservationConfirmed, true
	case customers.StatusResolved:
		if c.OrderDetails != "" {
			return notify.KindTakeawayConfirmed, true
		}
	}
	return "", false
}

func (s *Scheduler) sendNotification(ctx context.Context, c customers.Customer, kind notify.Kind) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(ctx, notify.Notification{Kind: kind, Customer: c}); err != nil {
		s.log.Warn("notification failed", "customer_id", c.ID, "kind", kind, "error", err)
		return
	}
	if _, err := s.store.Update(ctx, c.ID, customers.Patch{
		Notified: customers.BoolPtr(true),
	}); err != nil {
		s.log.Error("notified flag update failed", "customer_id", c.ID, "error", err)
		return
	}
	s.journalAppend(ctx, journal.Entry{
		CustomerID: c.ID,
		Event:      journal.EventNotificationSent,
		Detail:     string(kind),
	})
	s.log.Info("notification sent", "customer_id", c.ID, "kind", kind)
}

func (s *Scheduler) journalAppend(ctx context.Context, e journal.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(ctx, e); err != nil {
		s.log.Warn("journal append failed", "customer_id", e.CustomerID, "error", err)
	}
}

func (s *Scheduler) journalStatusChange(ctx context.Context, customerID string, from, to customers.Status, callID string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.LogStatusChange(ctx, customerID, string(from), string(to), callID); err != nil {
		s.log.Warn("journal append failed", "customer_id", customerID, "error", err)
	}
}

func (s *Scheduler) journalDispatch(ctx context.Context, customerID, callID string, flow voice.Flow) {
	if s.journal == nil {
		return
	}
	if err := s.journal.LogDispatch(ctx, customerID, callID, string(flow)); err != nil {
		s.log.Warn("journal append failed", "customer_id", customerID, "error", err)
	}
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.claimed[id]; busy {
		return false
	}
	s.claimed[id] = struct{}{}
	return true
}

func (s *Scheduler) unclaim(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, id)
}
