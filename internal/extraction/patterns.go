package extraction

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"tablecall/internal/voice"
)

// Tier 1: deterministic pattern matching over the call transcript.
//
// Rules:
//   - Works on the text leaves of the provider payload, never on its
//     structure. Structured fields belong to the traversal tier.
//   - A field is accepted only when exactly one outcome category matches.
//     Two contradicting categories in the same transcript (the agent
//     echoing the question, the customer changing their mind) make the
//     tier fail so a later tier can arbitrate.

var textKeys = map[string]bool{
	"transcript":     true,
	"transcription":  true,
	"summary":        true,
	"call_summary":   true,
	"message":        true,
	"text":           true,
	"notes":          true,
	"customer_reply": true,
	"response":       true,
}

var orderExprs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\border(?:\s+details?)?\s*[:\-]\s*([^\n.!?]+)`),
	regexp.MustCompile(`(?i)\b(?:i(?:'d| would) like to order|i(?:'ll| will) (?:have|take|order)|we(?:'ll| will) (?:have|take|order)|can i get|i want to order)\s+([^\n.!?]+)`),
}

var (
	arrivedExprs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:i(?:'ve| have)?\s*(?:just\s+)?(?:arrived|reached)|we(?:'ve| have)?\s*(?:just\s+)?(?:arrived|reached)|(?:am|i'm|we're|we are)\s+(?:here|at the restaurant)|already (?:here|inside|seated))\b`),
	}
	onTheWayExprs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:on (?:my|our|the) way|almost there|nearly there|running late|(?:be|arrive) there (?:in|by)|coming (?:in|over|now)|leaving now|just left)\b`),
	}
	notComingExprs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:not (?:be able to )?(?:coming|come|make it)|can'?t (?:come|make it)|won'?t (?:be able to )?(?:come|make it)|cancel(?:led|ling)? (?:my|our|the)?\s*(?:visit|booking|reservation|order)?|something came up)\b`),
	}
)

var (
	rescheduleExprs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:reschedul\w*|re-?book\w*|(?:come|visit|try) (?:again|back|later|tomorrow)|another (?:time|day)|move (?:my|our|the) (?:booking|reservation|visit))\b`),
	}
	takeawayExprs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:take\s?-?away|take\s?-?out|pick\s?-?up|pick it up|parcel|to go|collect (?:my|our|the) order)\b`),
	}
	cancelExprs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:cancel(?:led|ling)?(?:\s+(?:for\s+)?(?:today|everything|it|my order|the order))?|not (?:today|any\s?more|interested)|skip (?:it|today)|maybe (?:another|some other) (?:time|day))\b`),
	}
)

// scanPatterns runs the tier against the payload's text and returns a
// partial Result. completeness and ambiguity verdicts are the caller's.
func scanPatterns(flow voice.Flow, payload json.RawMessage, ref time.Time) (Result, bool) {
	text := payloadText(payload)
	if strings.TrimSpace(text) == "" {
		return Result{}, false
	}

	r := Result{Source: SourceRegex}
	switch flow {
	case voice.FlowOrderBooking:
		if details, ok := matchOrder(text); ok {
			r.OrderDetails = details
		}
		if t, ok := FindTime(text, ref); ok {
			r.ExpectedArrivalTime = &t
		}
	case voice.FlowArrivalConfirmation:
		outcome, ok := matchArrival(text)
		if !ok {
			return Result{}, false
		}
		r.ArrivalOutcome = outcome
		if t, found := FindTime(text, ref); found {
			r.ExpectedArrivalTime = &t
		}
	case voice.FlowRecovery:
		action, ok := matchRecovery(text)
		if !ok {
			return Result{}, false
		}
		r.RecoveryAction = action
		if action == RecoveryReschedule {
			if t, found := FindTime(text, ref); found {
				r.ExpectedArrivalTime = &t
			}
		}
		if action == RecoveryTakeaway {
			if details, found := matchOrder(text); found {
				r.OrderDetails = details
			}
		}
	default:
		return Result{}, false
	}
	return r, true
}

func matchOrder(text string) (string, bool) {
	for _, expr := range orderExprs {
		if m := expr.FindStringSubmatch(text); m != nil {
			details := strings.TrimSpace(m[1])
			if details != "" {
				return details, true
			}
		}
	}
	return "", false
}

// matchArrival maps the transcript to an arrival outcome, failing on
// silence and on contradiction alike.
func matchArrival(text string) (ArrivalOutcome, bool) {
	var hits []ArrivalOutcome
	if matchAny(arrivedExprs, text) {
		hits = append(hits, ArrivalArrived)
	}
	if matchAny(onTheWayExprs, text) {
		hits = append(hits, ArrivalOnTheWay)
	}
	if matchAny(notComingExprs, text) {
		hits = append(hits, ArrivalNotComing)
	}
	if len(hits) != 1 {
		return ArrivalUnknown, false
	}
	return hits[0], true
}

func matchRecovery(text string) (RecoveryAction, bool) {
	var hits []RecoveryAction
	if matchAny(rescheduleExprs, text) {
		hits = append(hits, RecoveryReschedule)
	}
	if matchAny(takeawayExprs, text) {
		hits = append(hits, RecoveryTakeaway)
	}
	if matchAny(cancelExprs, text) {
		hits = append(hits, RecoveryCancel)
	}
	if len(hits) != 1 {
		return RecoveryUnknown, false
	}
	return hits[0], true
}

func matchAny(exprs []*regexp.Regexp, text string) bool {
	for _, expr := range exprs {
		if expr.MatchString(text) {
			return true
		}
	}
	return false
}

// payloadText gathers the string leaves under transcript-like keys, in
// sorted key order so repeated runs see the same text. A payload that is
// not a JSON object is treated as raw text.
func payloadText(payload json.RawMessage) string {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return string(payload)
	}
	var parts []string
	collectText(doc, false, &parts)
	if len(parts) == 0 {
		if s, ok := doc.(string); ok {
			return s
		}
		return ""
	}
	return strings.Join(parts, "\n")
}

func collectText(node any, underTextKey bool, parts *[]string) {
	switch v := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectText(v[k], underTextKey || textKeys[strings.ToLower(k)], parts)
		}
	case []any:
		for _, item := range v {
			collectText(item, underTextKey, parts)
		}
	case string:
		if underTextKey && strings.TrimSpace(v) != "" {
			*parts = append(*parts, v)
		}
	}
}
