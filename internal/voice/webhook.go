package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// The call-result webhook is the push variant of CallOutcome: the proxy
// fires it once a call finishes. Shapes vary between proxy versions, so the
// parser is tolerant: ids may be quoted or numeric, the flow may arrive as
// "flow" or "flow_type", and the completion status may be absent entirely
// (a fired webhook implies the call completed).
//
// The raw body is preserved as the outcome payload; the extraction pipeline
// decides what the result fields mean.

var ErrMissingCustomerID = errors.New("webhook carried no customer_id")

type callResultWebhook struct {
	CustomerID flexID `json:"customer_id"`
	CallID     flexID `json:"call_id"`
	Flow       string `json:"flow"`
	FlowType   string `json:"flow_type"`
	CallStatus string `json:"call_status"`
	Status     string `json:"status"`
}

// ParseCallResult reads a call-result webhook request into a CallOutcome.
func ParseCallResult(r *http.Request) (CallOutcome, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return CallOutcome{}, fmt.Errorf("read webhook body: %w", err)
	}
	var w callResultWebhook
	if err := json.Unmarshal(raw, &w); err != nil {
		return CallOutcome{}, fmt.Errorf("decode webhook body: %w", err)
	}
	if w.CustomerID == "" {
		return CallOutcome{}, ErrMissingCustomerID
	}

	state := CallCompleted
	if s := firstNonEmpty(w.CallStatus, w.Status); s != "" {
		state = mapCompletionState(s)
	}

	return CallOutcome{
		CallID:     string(w.CallID),
		CustomerID: string(w.CustomerID),
		Flow:       Flow(firstNonEmpty(w.Flow, w.FlowType)),
		State:      state,
		Payload:    raw,
	}, nil
}
