package dispatch

import (
	"strings"

	"tablecall/internal/voice"
)

// Call scripts per flow. Placeholders use {{name}} and {{restaurant_name}};
// unknown placeholders render as-is so a typo is visible in the transcript
// instead of silently vanishing.

type script struct {
	template      string
	captureFields []string
}

var scripts = map[voice.Flow]script{
	voice.FlowOrderBooking: {
		template: "Hello {{name}}, this is calling from {{restaurant_name}}. " +
			"We noticed your interest in dining with us today. " +
			"I just want to confirm your order and any special requirements. " +
			"Are you planning to dine in or take away? " +
			"Do you have any special food preferences? " +
			"What time will you be arriving?",
		captureFields: []string{"order_details", "expected_arrival_time"},
	},
	voice.FlowArrivalConfirmation: {
		template: "Hi {{name}}, this is {{restaurant_name}}. " +
			"Just checking if you've reached the restaurant or are on the way?",
		captureFields: []string{"arrival_status"},
	},
	voice.FlowRecovery: {
		template: "Hi {{name}}, this is {{restaurant_name}}. " +
			"We noticed you couldn't make it earlier, no worries at all. " +
			"Would you like to reschedule your visit, place a takeaway order, or cancel for today?",
		captureFields: []string{"action", "new_arrival_time", "takeaway_order"},
	},
}

// Render fills {{placeholder}} slots from vars.
func Render(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// CaptureFields lists the answer fields the voice agent is asked to
// capture for a flow.
func CaptureFields(flow voice.Flow) []string {
	s, ok := scripts[flow]
	if !ok {
		return nil
	}
	return append([]string(nil), s.captureFields...)
}
