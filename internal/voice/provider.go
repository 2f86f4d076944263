package voice

import (
	"context"
	"encoding/json"
	"time"
)

// Provider defines the provider-agnostic interface used by the dispatcher
// and the scheduler.
//
// Rules:
// - No provider HTTP calls outside voice adapters.
// - Keep request/result types provider-agnostic; the raw provider payload
//   travels untouched as JSON for the extraction pipeline to interpret.
type Provider interface {
	Name() string

	SubmitCall(ctx context.Context, req CallRequest) (CallSubmission, error)
	CallOutcome(ctx context.Context, callID string) (CallOutcome, error)
	RecordingURL(ctx context.Context, callID string) (string, error)
	ListCalls(ctx context.Context, limit int) ([]CallSummary, error)
}

// Flow names a scripted call purpose. The values are the wire-level flow
// identifiers the proxy expects and echoes back.
type Flow string

const (
	FlowOrderBooking        Flow = "order_booking"
	FlowArrivalConfirmation Flow = "arrival_confirmation"
	FlowRecovery            Flow = "missed_customer_recovery"
)

func ValidFlow(f Flow) bool {
	switch f {
	case FlowOrderBooking, FlowArrivalConfirmation, FlowRecovery:
		return true
	}
	return false
}

// CallRequest is one outbound call order.
type CallRequest struct {
	PhoneNumber string `json:"phone_number"`
	CustomerID  string `json:"customer_id"`

	// Flow selects the scripted purpose of the call.
	Flow Flow `json:"call_flow"`

	Context CallContext `json:"context"`
}

// CallContext is the conversational payload handed to the voice agent.
type CallContext struct {
	Name           string `json:"name"`
	RestaurantName string `json:"restaurant_name"`

	// Script is the fully templated call script for this customer.
	Script string `json:"script"`

	FlowType string `json:"flow_type"`
	// CaptureFields names the facts the agent should collect on this call.
	CaptureFields []string `json:"capture_fields"`
}

type CallSubmission struct {
	CallID string `json:"call_id"`
}

// CompletionState is the per-call state machine polled by the scheduler.
type CompletionState string

const (
	CallPending   CompletionState = "pending"
	CallCompleted CompletionState = "completed"
	CallFailed    CompletionState = "failed"
)

// CallOutcome is one call's result, whether it arrived by polling or by
// webhook push. Both paths produce the same shape so downstream handling
// cannot diverge.
type CallOutcome struct {
	CallID string `json:"call_id"`
	// CustomerID is set on webhook pushes; polled outcomes leave it empty
	// and the scheduler already knows whose call it asked about.
	CustomerID string `json:"customer_id,omitempty"`
	// Flow is set when the provider echoes it back.
	Flow Flow `json:"flow,omitempty"`

	State CompletionState `json:"state"`

	// Payload is the raw provider outcome for the extraction pipeline.
	Payload json.RawMessage `json:"payload,omitempty"`

	// CompletedAt is the provider's completion time when it reports one;
	// zero otherwise. Relative time expressions in the payload are resolved
	// against it.
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

type CallSummary struct {
	CallID     string          `json:"call_id"`
	CustomerID string          `json:"customer_id,omitempty"`
	Flow       Flow            `json:"flow,omitempty"`
	State      CompletionState `json:"state"`
	CreatedAt  time.Time       `json:"created_at,omitempty"`
}

// flexID accepts both numeric and string identifiers. The proxy emits call
// ids as numbers; webhook relays sometimes quote them.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// mapCompletionState folds the provider's status vocabulary onto the
// three-state machine.
func mapCompletionState(s string) CompletionState {
	switch s {
	case "completed", "complete", "done":
		return CallCompleted
	case "failed", "error", "busy", "no_answer", "no-answer", "canceled", "cancelled":
		return CallFailed
	default:
		return CallPending
	}
}
