package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tablecall/internal/voice"
)

// Tier 3: model fallback. Only reached when patterns and structured fields
// both came up short, so the instruction pins the output to a strict JSON
// shape we can validate instead of trusting the model's judgement.

// ModelClient is the completion surface the fallback needs.
type ModelClient interface {
	Complete(ctx context.Context, instruction, input string) (string, error)
}

const maxModelInput = 8000

// modelAnswer is the only response shape the fallback accepts.
type modelAnswer struct {
	OrderDetails        *string `json:"order_details"`
	ExpectedArrivalTime *string `json:"expected_arrival_time"`
	ArrivalOutcome      *string `json:"arrival_outcome"`
	RecoveryAction      *string `json:"recovery_action"`
}

func scanModel(ctx context.Context, client ModelClient, flow voice.Flow, payload json.RawMessage, ref time.Time) (Result, error) {
	if client == nil {
		return Result{}, fmt.Errorf("no model client configured")
	}
	input := string(payload)
	if len(input) > maxModelInput {
		input = input[:maxModelInput]
	}

	raw, err := client.Complete(ctx, buildInstruction(flow, ref), input)
	if err != nil {
		return Result{}, fmt.Errorf("model completion: %w", err)
	}

	var answer modelAnswer
	if err := json.Unmarshal([]byte(stripFences(raw)), &answer); err != nil {
		return Result{}, fmt.Errorf("model returned non-JSON answer: %w", err)
	}

	r := Result{Source: SourceLLM}
	if answer.OrderDetails != nil {
		r.OrderDetails = strings.TrimSpace(*answer.OrderDetails)
	}
	if answer.ExpectedArrivalTime != nil {
		t, ok := ParseTimeValue(*answer.ExpectedArrivalTime, ref)
		if !ok {
			return Result{}, fmt.Errorf("model returned unparseable time %q", *answer.ExpectedArrivalTime)
		}
		r.ExpectedArrivalTime = &t
	}
	if answer.ArrivalOutcome != nil {
		r.ArrivalOutcome = normalizeArrival(*answer.ArrivalOutcome)
		if r.ArrivalOutcome == ArrivalUnknown {
			return Result{}, fmt.Errorf("model returned unknown arrival outcome %q", *answer.ArrivalOutcome)
		}
	}
	if answer.RecoveryAction != nil {
		r.RecoveryAction = normalizeRecovery(*answer.RecoveryAction)
		if r.RecoveryAction == RecoveryUnknown {
			return Result{}, fmt.Errorf("model returned unknown recovery action %q", *answer.RecoveryAction)
		}
	}
	return r, nil
}

func buildInstruction(flow voice.Flow, ref time.Time) string {
	var b strings.Builder
	b.WriteString("You read the payload of a finished restaurant phone call and extract reservation facts. ")
	b.WriteString("Reply with a single JSON object and nothing else, using exactly these keys: ")
	b.WriteString(`{"order_details": string or null, "expected_arrival_time": string or null, "arrival_outcome": one of "arrived"/"on_the_way"/"not_coming" or null, "recovery_action": one of "reschedule"/"takeaway"/"cancel" or null}. `)
	b.WriteString("Use null for anything the call does not establish. ")
	fmt.Fprintf(&b, "The call completed at %s; resolve relative times like \"in 20 minutes\" against that moment and write times as RFC 3339 UTC. ", ref.UTC().Format(time.RFC3339))

	switch flow {
	case voice.FlowOrderBooking:
		b.WriteString("This was an order booking call: find what the customer wants to order and when they expect to arrive.")
	case voice.FlowArrivalConfirmation:
		b.WriteString("This was an arrival check call: find whether the customer has arrived, is on the way, or is not coming.")
	case voice.FlowRecovery:
		b.WriteString("This was a missed visit follow-up call: find whether the customer wants to reschedule (and for when), switch to a takeaway order (and what to prepare), or cancel.")
	}
	return b.String()
}

// stripFences removes a markdown code fence wrapper if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.HasPrefix(s, "{") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
