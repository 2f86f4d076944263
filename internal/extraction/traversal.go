package extraction

import (
	"encoding/json"
	"strings"
	"time"

	"tablecall/internal/voice"
)

// Tier 2: structured field traversal. Providers that already ran their own
// capture step ship the answers as named fields, usually nested under a
// container object. The tier reads those fields directly and never touches
// transcript text.

// containerKeys name the objects worth descending into, most specific
// first. The payload root is always searched last.
var containerKeys = []string{
	"extracted_data",
	"result",
	"captured_fields",
	"capture",
	"output",
	"data",
}

var (
	orderFieldKeys   = []string{"order_details", "takeaway_order", "order", "order_summary"}
	timeFieldKeys    = []string{"expected_arrival_time", "new_arrival_time", "arrival_time", "expected_time", "eta"}
	arrivalFieldKeys = []string{"arrival_status", "arrival_outcome", "arrival"}
	actionFieldKeys  = []string{"action", "recovery_action", "customer_action"}
)

// scanStructured runs the tier against the payload's named fields. It
// reports false when the payload is not a JSON object; completeness is
// judged by the caller.
func scanStructured(flow voice.Flow, payload json.RawMessage, ref time.Time) (Result, bool) {
	var root map[string]any
	if err := json.Unmarshal(payload, &root); err != nil {
		return Result{}, false
	}
	containers := collectContainers(root)

	r := Result{Source: SourceJSONPath}
	switch flow {
	case voice.FlowOrderBooking:
		if s, ok := lookupString(containers, orderFieldKeys); ok {
			r.OrderDetails = s
		}
		if t, ok := lookupTime(containers, timeFieldKeys, ref); ok {
			r.ExpectedArrivalTime = &t
		}
	case voice.FlowArrivalConfirmation:
		s, ok := lookupString(containers, arrivalFieldKeys)
		if !ok {
			return Result{}, false
		}
		r.ArrivalOutcome = normalizeArrival(s)
		if t, found := lookupTime(containers, timeFieldKeys, ref); found {
			r.ExpectedArrivalTime = &t
		}
	case voice.FlowRecovery:
		s, ok := lookupString(containers, actionFieldKeys)
		if !ok {
			return Result{}, false
		}
		r.RecoveryAction = normalizeRecovery(s)
		switch r.RecoveryAction {
		case RecoveryReschedule:
			if t, found := lookupTime(containers, timeFieldKeys, ref); found {
				r.ExpectedArrivalTime = &t
			}
		case RecoveryTakeaway:
			if details, found := lookupString(containers, orderFieldKeys); found {
				r.OrderDetails = details
			}
		}
	default:
		return Result{}, false
	}
	return r, true
}

// collectContainers gathers the objects to search, two levels deep, in
// priority order. Nested containers come before the objects holding them
// so extracted_data inside a result envelope still wins.
func collectContainers(root map[string]any) []map[string]any {
	var out []map[string]any
	for _, key := range containerKeys {
		child, ok := root[key].(map[string]any)
		if !ok {
			continue
		}
		for _, inner := range containerKeys {
			if nested, ok := child[inner].(map[string]any); ok {
				out = append(out, nested)
			}
		}
		out = append(out, child)
	}
	return append(out, root)
}

func lookupString(containers []map[string]any, keys []string) (string, bool) {
	for _, c := range containers {
		for _, key := range keys {
			v, ok := c[key]
			if !ok {
				continue
			}
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}
	}
	return "", false
}

func lookupTime(containers []map[string]any, keys []string, ref time.Time) (time.Time, bool) {
	for _, c := range containers {
		for _, key := range keys {
			v, ok := c[key]
			if !ok {
				continue
			}
			if s, ok := v.(string); ok {
				if t, parsed := ParseTimeValue(s, ref); parsed {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}
