package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tablecall/internal/customers"
	"tablecall/internal/voice"
)

type fakeProvider struct {
	submitted []voice.CallRequest
	nextID    string
	err       error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) SubmitCall(_ context.Context, req voice.CallRequest) (voice.CallSubmission, error) {
	if f.err != nil {
		return voice.CallSubmission{}, f.err
	}
	f.submitted = append(f.submitted, req)
	return voice.CallSubmission{CallID: f.nextID}, nil
}

func (f *fakeProvider) CallOutcome(context.Context, string) (voice.CallOutcome, error) {
	return voice.CallOutcome{}, errors.New("not implemented")
}

func (f *fakeProvider) RecordingURL(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProvider) ListCalls(context.Context, int) ([]voice.CallSummary, error) {
	return nil, errors.New("not implemented")
}

func testCustomer() customers.Customer {
	return customers.Customer{
		ID:     "cust-1",
		Name:   "Asha",
		Mobile: "+14155550100",
		Status: customers.StatusNew,
	}
}

func TestRender(t *testing.T) {
	got := Render("Hello {{name}}, welcome to {{restaurant_name}}.", map[string]string{
		"name":            "Asha",
		"restaurant_name": "Dino Restaurant",
	})
	if got != "Hello Asha, welcome to Dino Restaurant." {
		t.Fatalf("Render = %q", got)
	}

	// Unknown placeholders stay visible.
	if got := Render("Hi {{nickname}}", map[string]string{"name": "Asha"}); got != "Hi {{nickname}}" {
		t.Fatalf("Render = %q", got)
	}
}

func TestDispatch(t *testing.T) {
	provider := &fakeProvider{nextID: "7341"}
	d := NewDispatcher(provider, "Dino Restaurant")

	sub, err := d.Dispatch(context.Background(), testCustomer(), voice.FlowOrderBooking)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sub.CallID != "7341" {
		t.Fatalf("call id = %q", sub.CallID)
	}
	if len(provider.submitted) != 1 {
		t.Fatalf("submitted %d calls", len(provider.submitted))
	}

	req := provider.submitted[0]
	if req.PhoneNumber != "+14155550100" || req.CustomerID != "cust-1" {
		t.Fatalf("request routing = %+v", req)
	}
	if req.Flow != voice.FlowOrderBooking {
		t.Fatalf("flow = %q", req.Flow)
	}
	if !strings.Contains(req.Context.Script, "Hello Asha") || !strings.Contains(req.Context.Script, "Dino Restaurant") {
		t.Fatalf("script not personalized: %q", req.Context.Script)
	}
	if strings.Contains(req.Context.Script, "{{") {
		t.Fatalf("unrendered placeholder in script: %q", req.Context.Script)
	}
	if len(req.Context.CaptureFields) != 2 || req.Context.CaptureFields[0] != "order_details" {
		t.Fatalf("capture fields = %v", req.Context.CaptureFields)
	}
}

func TestDispatchRecoveryWireFlow(t *testing.T) {
	provider := &fakeProvider{nextID: "1"}
	d := NewDispatcher(provider, "Dino Restaurant")

	if _, err := d.Dispatch(context.Background(), testCustomer(), voice.FlowRecovery); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	req := provider.submitted[0]
	if string(req.Flow) != "missed_customer_recovery" {
		t.Fatalf("wire flow = %q", req.Flow)
	}
	want := []string{"action", "new_arrival_time", "takeaway_order"}
	if len(req.Context.CaptureFields) != len(want) {
		t.Fatalf("capture fields = %v", req.Context.CaptureFields)
	}
	for i, field := range want {
		if req.Context.CaptureFields[i] != field {
			t.Fatalf("capture fields = %v, want %v", req.Context.CaptureFields, want)
		}
	}
}

func TestDispatchErrors(t *testing.T) {
	ctx := context.Background()

	d := NewDispatcher(&fakeProvider{err: errors.New("gateway timeout")}, "Dino Restaurant")
	_, err := d.Dispatch(ctx, testCustomer(), voice.FlowOrderBooking)
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("err = %v, want ErrDispatch", err)
	}

	d = NewDispatcher(&fakeProvider{nextID: ""}, "Dino Restaurant")
	if _, err := d.Dispatch(ctx, testCustomer(), voice.FlowOrderBooking); !errors.Is(err, ErrDispatch) {
		t.Fatalf("missing call id err = %v, want ErrDispatch", err)
	}

	d = NewDispatcher(&fakeProvider{nextID: "1"}, "Dino Restaurant")
	if _, err := d.Dispatch(ctx, testCustomer(), voice.Flow("survey")); err == nil {
		t.Fatal("unknown flow should fail")
	}
	noMobile := testCustomer()
	noMobile.Mobile = ""
	if _, err := d.Dispatch(ctx, noMobile, voice.FlowOrderBooking); err == nil {
		t.Fatal("missing mobile should fail")
	}
}
