package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"tablecall/internal/customers"
	"tablecall/internal/extraction"
	"tablecall/internal/journal"
	"tablecall/internal/notify"
	"tablecall/internal/voice"
)

type dispatched struct {
	CustomerID string
	Flow       voice.Flow
	CallID     string
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []dispatched
	err    error
	serial int
}

func (f *fakeDispatcher) Dispatch(_ context.Context, c customers.Customer, flow voice.Flow) (voice.CallSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return voice.CallSubmission{}, f.err
	}
	f.serial++
	id := fmt.Sprintf("call-%d", f.serial)
	f.calls = append(f.calls, dispatched{CustomerID: c.ID, Flow: flow, CallID: id})
	return voice.CallSubmission{CallID: id}, nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDispatcher) last() dispatched {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeOutcomes struct {
	mu       sync.Mutex
	outcomes map[string]voice.CallOutcome
}

func (f *fakeOutcomes) set(id string, o voice.CallOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.CallID == "" {
		o.CallID = id
	}
	f.outcomes[id] = o
}

func (f *fakeOutcomes) CallOutcome(_ context.Context, id string) (voice.CallOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.outcomes[id]; ok {
		return o, nil
	}
	return voice.CallOutcome{CallID: id, State: voice.CallPending}, nil
}

type fakeExtractor struct {
	result         extraction.Result
	err            error
	gotFlow        voice.Flow
	gotCompletedAt time.Time
}

func (f *fakeExtractor) Extract(_ context.Context, flow voice.Flow, _ json.RawMessage, completedAt time.Time) (extraction.Result, error) {
	f.gotFlow = flow
	f.gotCompletedAt = completedAt
	if f.err != nil {
		return extraction.Result{}, f.err
	}
	r := f.result
	r.Valid = true
	return r, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (f *fakeSender) Send(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type harness struct {
	t      *testing.T
	store  *customers.MemoryStore
	disp   *fakeDispatcher
	out    *fakeOutcomes
	ext    *fakeExtractor
	sender *fakeSender
	repo   *journal.MemoryRepo
	sched  *Scheduler
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:      t,
		store:  customers.NewMemoryStore(),
		disp:   &fakeDispatcher{},
		out:    &fakeOutcomes{outcomes: make(map[string]voice.CallOutcome)},
		ext:    &fakeExtractor{},
		sender: &fakeSender{},
		repo:   journal.NewMemoryRepo(),
		now:    time.Unix(1700000000, 0).UTC(),
	}
	h.sched = New(Config{
		StaleCallAfter: 30 * time.Minute,
		Rules:          testRules(),
	}, Deps{
		Store:      h.store,
		Dispatcher: h.disp,
		Outcomes:   h.out,
		Extractor:  h.ext,
		Sender:     h.sender,
		Journal:    journal.NewService(h.repo),
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.sched.clock = func() time.Time { return h.now }
	return h
}

func (h *harness) add(c customers.Customer) {
	h.t.Helper()
	if err := h.store.Create(context.Background(), c); err != nil {
		h.t.Fatalf("create %s: %v", c.ID, err)
	}
}

func (h *harness) get(id string) customers.Customer {
	h.t.Helper()
	c, err := h.store.Get(context.Background(), id)
	if err != nil {
		h.t.Fatalf("get %s: %v", id, err)
	}
	return c
}

func (h *harness) sweepCalls() int {
	h.t.Helper()
	n, err := h.sched.SweepCalls(context.Background())
	if err != nil {
		h.t.Fatalf("sweep calls: %v", err)
	}
	return n
}

func (h *harness) sweepResults() {
	h.t.Helper()
	if err := h.sched.SweepResults(context.Background()); err != nil {
		h.t.Fatalf("sweep results: %v", err)
	}
}

func (h *harness) events(id string) []journal.EventType {
	h.t.Helper()
	entries, err := h.repo.ListByCustomer(context.Background(), id)
	if err != nil {
		h.t.Fatalf("journal: %v", err)
	}
	out := make([]journal.EventType, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

func hasEvent(events []journal.EventType, want journal.EventType) bool {
	for _, e := range events {
		if e == want {
			return true
		}
	}
	return false
}

func TestScheduler_SweepDispatchesNewCustomer(t *testing.T) {
	h := newHarness(t)
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Email: "asha@example.com", Status: customers.StatusNew})

	if n := h.sweepCalls(); n != 1 {
		t.Fatalf("dispatched %d calls, want 1", n)
	}
	if got := h.disp.last(); got.Flow != voice.FlowOrderBooking || got.CustomerID != "c1" {
		t.Fatalf("dispatched %+v", got)
	}

	c := h.get("c1")
	if c.Status != customers.StatusCalled {
		t.Fatalf("status = %s", c.Status)
	}
	if !c.CallInFlight || c.CallAttempts != 1 {
		t.Fatalf("guard state: in_flight=%v attempts=%d", c.CallInFlight, c.CallAttempts)
	}
	if c.LastCallID != "call-1" || c.LastCallTime == nil || !c.LastCallTime.Equal(h.now) {
		t.Fatalf("call bookkeeping: id=%q time=%v", c.LastCallID, c.LastCallTime)
	}

	events := h.events("c1")
	if !hasEvent(events, journal.EventCallDispatched) || !hasEvent(events, journal.EventStatusChanged) {
		t.Fatalf("journal events = %v", events)
	}
}

func TestScheduler_TicksAreIdempotent(t *testing.T) {
	h := newHarness(t)
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Email: "asha@example.com", Status: customers.StatusNew})

	h.sweepCalls()
	if n := h.sweepCalls(); n != 0 {
		t.Fatalf("second sweep dispatched %d calls", n)
	}
	if h.disp.count() != 1 {
		t.Fatalf("dispatcher saw %d calls", h.disp.count())
	}

	// Outcome still pending: results sweeps must not change anything.
	h.sweepResults()
	h.sweepResults()
	c := h.get("c1")
	if !c.CallInFlight || c.Status != customers.StatusCalled {
		t.Fatalf("pending call disturbed: %+v", c)
	}
	if h.sender.count() != 0 {
		t.Fatalf("sent %d notifications", h.sender.count())
	}
}

func TestScheduler_DispatchFailureLeavesRecordEligible(t *testing.T) {
	h := newHarness(t)
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Status: customers.StatusNew})
	h.disp.err = errors.New("provider down")

	if n := h.sweepCalls(); n != 0 {
		t.Fatalf("dispatched %d calls", n)
	}
	c := h.get("c1")
	if c.Status != customers.StatusNew {
		t.Fatalf("status moved to %s on failed dispatch", c.Status)
	}
	if c.CallInFlight {
		t.Fatal("guard left set after failed dispatch")
	}
	if c.CallAttempts != 1 {
		t.Fatalf("attempts = %d", c.CallAttempts)
	}
	if !hasEvent(h.events("c1"), journal.EventDispatchFailed) {
		t.Fatal("dispatch failure not journaled")
	}

	// Retry waits out the backoff window, then goes through.
	h.disp.err = nil
	if n := h.sweepCalls(); n != 0 {
		t.Fatalf("retry inside backoff dispatched %d calls", n)
	}
	h.now = h.now.Add(10 * time.Minute)
	if n := h.sweepCalls(); n != 1 {
		t.Fatalf("retry after backoff dispatched %d calls", n)
	}
	if got := h.get("c1"); got.Status != customers.StatusCalled {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestScheduler_MaxAttemptsStopsRetries(t *testing.T) {
	h := newHarness(t)
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Status: customers.StatusNew, CallAttempts: 3})

	if n := h.sweepCalls(); n != 0 {
		t.Fatalf("dispatched %d calls for an exhausted record", n)
	}
}

func TestScheduler_ExhaustedRecordFlaggedOnce(t *testing.T) {
	h := newHarness(t)
	past := h.now.Add(-time.Hour)
	h.add(customers.Customer{
		ID: "c1", Name: "Asha", Mobile: "+14155550100",
		Status:              customers.StatusOrderConfirmed,
		ExpectedArrivalTime: &past,
		Notified:            true,
	})

	fail := func(callID string) {
		h.t.Helper()
		h.out.set(callID, voice.CallOutcome{State: voice.CallFailed})
		h.sweepResults()
	}

	h.sweepCalls()
	fail("call-1")
	h.now = h.now.Add(10 * time.Minute)
	h.sweepCalls()
	fail("call-2")
	h.now = h.now.Add(20 * time.Minute)
	h.sweepCalls()
	fail("call-3")

	c := h.get("c1")
	if c.CallAttempts != 3 {
		t.Fatalf("attempts = %d", c.CallAttempts)
	}
	if n := strings.Count(c.Remarks, exhaustedNote); n != 1 {
		t.Fatalf("exhausted note appears %d times in %q", n, c.Remarks)
	}

	h.now = h.now.Add(24 * time.Hour)
	if n := h.sweepCalls(); n != 0 {
		t.Fatalf("sweep dispatched %d calls past the attempt cap", n)
	}

	// Staff can still push one more call through; a repeat failure must not
	// stack a second flag.
	if _, _, err := h.sched.TriggerNow(context.Background(), "c1"); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	fail("call-4")
	c = h.get("c1")
	if c.CallAttempts != 4 || c.CallInFlight {
		t.Fatalf("after staff retry: attempts=%d in_flight=%v", c.CallAttempts, c.CallInFlight)
	}
	if n := strings.Count(c.Remarks, exhaustedNote); n != 1 {
		t.Fatalf("exhausted note appears %d times in %q", n, c.Remarks)
	}
}

func TestScheduler_OrderOutcomeConfirmsAndNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Email: "asha@example.com", Status: customers.StatusNew})
	h.sweepCalls()

	arrival := h.now.Add(45 * time.Minute)
	h.ext.result = extraction.Result{
		OrderDetails:        "2 veg pizzas",
		ExpectedArrivalTime: &arrival,
		Source:              extraction.SourceRegex,
	}
	h.out.set("call-1", voice.CallOutcome{
		State:       voice.CallCompleted,
		Payload:     []byte(`{"transcript": "order: 2 veg pizzas, in 45 minutes"}`),
		CompletedAt: h.now,
	})

	h.sweepResults()

	c := h.get("c1")
	if c.Status != customers.StatusOrderConfirmed {
		t.Fatalf("status = %s", c.Status)
	}
	if c.OrderDetails != "2 veg pizzas" || c.ExpectedArrivalTime == nil || !c.ExpectedArrivalTime.Equal(arrival) {
		t.Fatalf("reservation facts: %q %v", c.OrderDetails, c.ExpectedArrivalTime)
	}
	if c.CallInFlight || c.CallAttempts != 0 {
		t.Fatalf("guard state after outcome: in_flight=%v attempts=%d", c.CallInFlight, c.CallAttempts)
	}
	if !c.Notified {
		t.Fatal("notified flag not set")
	}
	if h.sender.count() != 1 || h.sender.sent[0].Kind != notify.KindReservationConfirmed {
		t.Fatalf("notifications = %+v", h.sender.sent)
	}
	if h.ext.gotFlow != voice.FlowOrderBooking || !h.ext.gotCompletedAt.Equal(h.now) {
		t.Fatalf("extractor saw flow=%q completed_at=%v", h.ext.gotFlow, h.ext.gotCompletedAt)
	}

	// Re-running the sweep sends nothing new.
	h.sweepResults()
	if h.sender.count() != 1 {
		t.Fatalf("notifications after re-run = %d", h.sender.count())
	}
}

func arrivalHarness(t *testing.T, outcome extraction.Result) (*harness, customers.Customer) {
	h := newHarness(t)
	past := h.now.Add(-10 * time.Minute)
	h.add(customers.Customer{
		ID: "c1", Name: "Asha", Mobile: "+14155550100", Email: "asha@example.com",
		Status:              customers.StatusOrderConfirmed,
		OrderDetails:        "2 veg pizzas",
		ExpectedArrivalTime: &past,
		Notified:            true,
	})
	if n := h.sweepCalls(); n != 1 {
		t.Fatalf("dispatched %d calls", n)
	}
	if got := h.disp.last(); got.Flow != voice.FlowArrivalConfirmation {
		t.Fatalf("flow = %q", got.Flow)
	}
	h.ext.result = outcome
	h.out.set("call-1", voice.CallOutcome{State: voice.CallCompleted, Payload: []byte(`{}`), CompletedAt: h.now})
	h.sweepResults()
	return h, h.get("c1")
}

func TestScheduler_ArrivalWaitsForExpectedTime(t *testing.T) {
	h := newHarness(t)
	future := h.now.Add(time.Hour)
	h.add(customers.Customer{
		ID: "c1", Name: "Asha", Mobile: "+14155550100",
		Status:              customers.StatusOrderConfirmed,
		ExpectedArrivalTime: &future,
		Notified:            true,
	})

	if n := h.sweepCalls(); n != 0 {
		t.Fatalf("dispatched %d calls before the expected time", n)
	}
	h.now = h.now.Add(time.Hour)
	if n := h.sweepCalls(); n != 1 {
		t.Fatalf("dispatched %d calls at the expected time", n)
	}
}

func TestScheduler_ArrivalOutcomeArrived(t *testing.T) {
	_, c := arrivalHarness(t, extraction.Result{ArrivalOutcome: extraction.ArrivalArrived})
	if c.Status != customers.StatusArrived || !c.ArrivalConfirmed {
		t.Fatalf("status=%s arrival_confirmed=%v", c.Status, c.ArrivalConfirmed)
	}
	if c.CallInFlight || c.CallAttempts != 0 {
		t.Fatalf("guard state: in_flight=%v attempts=%d", c.CallInFlight, c.CallAttempts)
	}
}

func TestScheduler_ArrivalOutcomeOnTheWayHolds(t *testing.T) {
	revised := time.Unix(1700000000, 0).UTC().Add(40 * time.Minute)
	h, c := arrivalHarness(t, extraction.Result{
		ArrivalOutcome:      extraction.ArrivalOnTheWay,
		ExpectedArrivalTime: &revised,
	})
	if c.Status != customers.StatusOrderConfirmed {
		t.Fatalf("status = %s", c.Status)
	}
	if c.ExpectedArrivalTime == nil || !c.ExpectedArrivalTime.Equal(revised) {
		t.Fatalf("expected arrival not pushed out: %v", c.ExpectedArrivalTime)
	}
	if c.CallInFlight {
		t.Fatal("guard left set")
	}
	// Attempts stay counted so the re-checks stay bounded.
	if c.CallAttempts != 1 {
		t.Fatalf("attempts = %d", c.CallAttempts)
	}
	if h.sender.count() != 0 {
		t.Fatalf("notifications = %d", h.sender.count())
	}
}

func TestScheduler_ArrivalOutcomeNotComing(t *testing.T) {
	_, c := arrivalHarness(t, extraction.Result{ArrivalOutcome: extraction.ArrivalNotComing})
	if c.Status != customers.StatusNoShow {
		t.Fatalf("status = %s", c.Status)
	}
	if c.CallAttempts != 0 {
		t.Fatalf("attempts = %d", c.CallAttempts)
	}
}

func recoveryHarness(t *testing.T, outcome extraction.Result) (*harness, customers.Customer) {
	h := newHarness(t)
	lastCall := h.now
	h.add(customers.Customer{
		ID: "c1", Name: "Asha", Mobile: "+14155550100", Email: "asha@example.com",
		Status:       customers.StatusNoShow,
		OrderDetails: "2 veg pizzas",
		LastCallTime: &lastCall,
		Notified:     true,
	})

	if n := h.sweepCalls(); n != 0 {
		t.Fatalf("dispatched %d calls inside the cooldown", n)
	}
	h.now = h.now.Add(30 * time.Minute)
	if n := h.sweepCalls(); n != 1 {
		t.Fatalf("dispatched %d calls after the cooldown", n)
	}
	if got := h.disp.last(); got.Flow != voice.FlowRecovery {
		t.Fatalf("flow = %q", got.Flow)
	}
	h.ext.result = outcome
	h.out.set("call-1", voice.CallOutcome{State: voice.CallCompleted, Payload: []byte(`{}`), CompletedAt: h.now})
	h.sweepResults()
	return h, h.get("c1")
}

func TestScheduler_RecoveryTakeaway(t *testing.T) {
	h, c := recoveryHarness(t, extraction.Result{
		RecoveryAction: extraction.RecoveryTakeaway,
		OrderDetails:   "paneer roll",
	})
	if c.Status != customers.StatusResolved {
		t.Fatalf("status = %s", c.Status)
	}
	if c.OrderDetails != "paneer roll" {
		t.Fatalf("order details = %q", c.OrderDetails)
	}
	if !strings.Contains(c.Remarks, "takeaway") {
		t.Fatalf("remarks = %q", c.Remarks)
	}
	if !c.Notified {
		t.Fatal("takeaway notification not marked sent")
	}
	if h.sender.count() != 1 || h.sender.sent[0].Kind != notify.KindTakeawayConfirmed {
		t.Fatalf("notifications = %+v", h.sender.sent)
	}
}

func TestScheduler_RecoveryCancel(t *testing.T) {
	h, c := recoveryHarness(t, extraction.Result{RecoveryAction: extraction.RecoveryCancel})
	if c.Status != customers.StatusResolved {
		t.Fatalf("status = %s", c.Status)
	}
	if !c.Notified {
		t.Fatal("cancel should close the notification cycle")
	}
	if h.sender.count() != 0 {
		t.Fatalf("cancel sent %d notifications", h.sender.count())
	}
	if !strings.Contains(c.Remarks, "cancelled") {
		t.Fatalf("remarks = %q", c.Remarks)
	}
}

func TestScheduler_RecoveryReschedule(t *testing.T) {
	newTime := time.Unix(1700000000, 0).UTC().Add(24 * time.Hour)
	_, c := recoveryHarness(t, extraction.Result{
		RecoveryAction:      extraction.RecoveryReschedule,
		ExpectedArrivalTime: &newTime,
	})
	if c.Status != customers.StatusOrderConfirmed {
		t.Fatalf("status = %s", c.Status)
	}
	if c.ExpectedArrivalTime == nil || !c.ExpectedArrivalTime.Equal(newTime) {
		t.Fatalf("expected arrival = %v, want %v", c.ExpectedArrivalTime, newTime)
	}
	if c.CallAttempts != 0 {
		t.Fatalf("attempts = %d", c.CallAttempts)
	}
}

func TestScheduler_WebhookAppliesOutcomeOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Email: "asha@example.com", Status: customers.StatusNew})
	h.sweepCalls()

	arrival := h.now.Add(time.Hour)
	h.ext.result = extraction.Result{OrderDetails: "thali", ExpectedArrivalTime: &arrival}
	webhook := voice.CallOutcome{
		CallID:      "call-1",
		Flow:        voice.FlowOrderBooking,
		State:       voice.CallCompleted,
		Payload:     []byte(`{"result": {"order_details": "thali"}}`),
		CompletedAt: h.now,
	}
	if err := h.sched.HandleOutcome(ctx, "c1", webhook); err != nil {
		t.Fatalf("HandleOutcome: %v", err)
	}
	if got := h.get("c1"); got.Status != customers.StatusOrderConfirmed {
		t.Fatalf("status = %s", got.Status)
	}

	// The same webhook again, and the poller afterwards, are both no-ops.
	if err := h.sched.HandleOutcome(ctx, "c1", webhook); err != nil {
		t.Fatalf("repeat HandleOutcome: %v", err)
	}
	h.out.set("call-1", webhook)
	h.sweepResults()
	if got := h.get("c1"); got.Status != customers.StatusOrderConfirmed {
		t.Fatalf("status = %s", got.Status)
	}
	if h.sender.count() != 1 {
		t.Fatalf("notifications = %d", h.sender.count())
	}
}

func TestScheduler_WebhookForStaleCallIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Status: customers.StatusNew})
	h.sweepCalls()

	stale := voice.CallOutcome{CallID: "call-99", State: voice.CallCompleted, Payload: []byte(`{}`)}
	if err := h.sched.HandleOutcome(ctx, "c1", stale); err != nil {
		t.Fatalf("HandleOutcome: %v", err)
	}
	if got := h.get("c1"); !got.CallInFlight || got.Status != customers.StatusCalled {
		t.Fatalf("stale webhook disturbed the record: %+v", got)
	}

	if err := h.sched.HandleOutcome(ctx, "ghost", stale); !errors.Is(err, customers.ErrNotFound) {
		t.Fatalf("unknown customer err = %v", err)
	}
}

func TestScheduler_WebhookProgressEventLeavesCallInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Status: customers.StatusNew})
	h.sweepCalls()

	progress := voice.CallOutcome{CallID: "call-1", State: voice.CallPending, Payload: []byte(`{"status":"initiated"}`)}
	if err := h.sched.HandleOutcome(ctx, "c1", progress); err != nil {
		t.Fatalf("HandleOutcome: %v", err)
	}
	got := h.get("c1")
	if !got.CallInFlight {
		t.Fatalf("progress event cleared the in-flight guard: %+v", got)
	}
	if got.Status != customers.StatusCalled {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestScheduler_ExtractionFailureAnnotatesAndFrees(t *testing.T) {
	h := newHarness(t)
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Status: customers.StatusNew})
	h.sweepCalls()

	h.ext.err = errors.New("all tiers failed")
	h.out.set("call-1", voice.CallOutcome{State: voice.CallCompleted, Payload: []byte(`{}`), CompletedAt: h.now})
	h.sweepResults()

	c := h.get("c1")
	if c.Status != customers.StatusCalled {
		t.Fatalf("status moved to %s on extraction failure", c.Status)
	}
	if c.CallInFlight {
		t.Fatal("guard left set after extraction failure")
	}
	if !strings.Contains(c.Remarks, "extraction failed for call call-1") {
		t.Fatalf("remarks = %q", c.Remarks)
	}
	if !hasEvent(h.events("c1"), journal.EventExtractionFailed) {
		t.Fatal("extraction failure not journaled")
	}
}

func TestScheduler_FailedArrivalCallRetriesAfterBackoff(t *testing.T) {
	h := newHarness(t)
	past := h.now.Add(-30 * time.Minute)
	h.add(customers.Customer{
		ID: "c1", Name: "Asha", Mobile: "+14155550100",
		Status:              customers.StatusOrderConfirmed,
		ExpectedArrivalTime: &past,
		Notified:            true,
	})
	h.sweepCalls()

	h.out.set("call-1", voice.CallOutcome{State: voice.CallFailed})
	h.sweepResults()

	c := h.get("c1")
	if c.CallInFlight || c.Status != customers.StatusOrderConfirmed || c.CallAttempts != 1 {
		t.Fatalf("after failed call: %+v", c)
	}
	if !strings.Contains(c.Remarks, "provider reported the call failed") {
		t.Fatalf("remarks = %q", c.Remarks)
	}
	if !hasEvent(h.events("c1"), journal.EventCallFailed) {
		t.Fatal("call failure not journaled")
	}

	if n := h.sweepCalls(); n != 0 {
		t.Fatalf("retry inside backoff dispatched %d calls", n)
	}
	h.now = h.now.Add(10 * time.Minute)
	if n := h.sweepCalls(); n != 1 {
		t.Fatalf("dispatched %d retries", n)
	}
	if got := h.disp.last(); got.Flow != voice.FlowArrivalConfirmation {
		t.Fatalf("retry flow = %q", got.Flow)
	}
}

func TestScheduler_FailedBookingCallWaitsForStaff(t *testing.T) {
	h := newHarness(t)
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Status: customers.StatusNew})
	h.sweepCalls()

	h.out.set("call-1", voice.CallOutcome{State: voice.CallFailed})
	h.sweepResults()

	// A called record is waiting on an outcome, not on a timer; the sweep
	// never re-dials it on its own.
	h.now = h.now.Add(24 * time.Hour)
	if n := h.sweepCalls(); n != 0 {
		t.Fatalf("sweep re-dialed a called record %d times", n)
	}

	sub, flow, err := h.sched.TriggerNow(context.Background(), "c1")
	if err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if flow != voice.FlowOrderBooking || sub.CallID != "call-2" {
		t.Fatalf("flow=%q call=%q", flow, sub.CallID)
	}
}

func TestScheduler_StaleCallReaped(t *testing.T) {
	h := newHarness(t)
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Status: customers.StatusNew})
	h.sweepCalls()

	// Provider keeps answering "pending"; inside the window nothing moves.
	h.sweepResults()
	if got := h.get("c1"); !got.CallInFlight {
		t.Fatal("call reaped too early")
	}

	h.now = h.now.Add(31 * time.Minute)
	h.sweepResults()
	c := h.get("c1")
	if c.CallInFlight {
		t.Fatal("stale call not reaped")
	}
	if !hasEvent(h.events("c1"), journal.EventCallFailed) {
		t.Fatal("stale call not journaled as failed")
	}
}

func TestScheduler_TriggerNow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	future := h.now.Add(time.Hour)
	h.add(customers.Customer{
		ID: "c1", Name: "Asha", Mobile: "+14155550100",
		Status:              customers.StatusOrderConfirmed,
		ExpectedArrivalTime: &future,
		CallAttempts:        3,
		Notified:            true,
	})

	// Not due by the rules (future time, attempts exhausted); the manual
	// path only honors the in-flight guard.
	sub, flow, err := h.sched.TriggerNow(ctx, "c1")
	if err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if flow != voice.FlowArrivalConfirmation || sub.CallID != "call-1" {
		t.Fatalf("flow=%q call=%q", flow, sub.CallID)
	}

	if _, _, err := h.sched.TriggerNow(ctx, "c1"); !errors.Is(err, ErrCallInFlight) {
		t.Fatalf("second trigger err = %v", err)
	}

	h.add(customers.Customer{ID: "c2", Name: "Ravi", Mobile: "+14155550101", Status: customers.StatusResolved})
	if _, _, err := h.sched.TriggerNow(ctx, "c2"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("resolved trigger err = %v", err)
	}

	if _, _, err := h.sched.TriggerNow(ctx, "ghost"); !errors.Is(err, customers.ErrNotFound) {
		t.Fatalf("unknown trigger err = %v", err)
	}
}

func TestScheduler_NotificationRetriesAfterSendFailure(t *testing.T) {
	h := newHarness(t)
	h.add(customers.Customer{ID: "c1", Name: "Asha", Mobile: "+14155550100", Email: "asha@example.com", Status: customers.StatusNew})
	h.sweepCalls()

	arrival := h.now.Add(time.Hour)
	h.ext.result = extraction.Result{OrderDetails: "thali", ExpectedArrivalTime: &arrival}
	h.out.set("call-1", voice.CallOutcome{State: voice.CallCompleted, Payload: []byte(`{}`), CompletedAt: h.now})

	h.sender.err = errors.New("smtp down")
	h.sweepResults()
	if c := h.get("c1"); c.Notified {
		t.Fatal("notified flag set despite send failure")
	}

	h.sender.err = nil
	h.sweepResults()
	c := h.get("c1")
	if !c.Notified || h.sender.count() != 1 {
		t.Fatalf("retry state: notified=%v sent=%d", c.Notified, h.sender.count())
	}
}
