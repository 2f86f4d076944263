package extraction

import (
	"errors"
	"strings"
	"time"

	"tablecall/internal/voice"
)

// Result is the structured reading of one raw call-outcome payload.
//
// A Result is only usable when Valid is true; an invalid Result means every
// tier failed and the caller must not advance the customer's status.
type Result struct {
	OrderDetails        string     `json:"order_details,omitempty"`
	ExpectedArrivalTime *time.Time `json:"expected_arrival_time,omitempty"`

	ArrivalOutcome ArrivalOutcome `json:"arrival_outcome"`
	RecoveryAction RecoveryAction `json:"recovery_action"`

	// Source records which tier produced the result.
	Source Source `json:"confidence_source"`
	Valid  bool   `json:"valid"`
}

type Source string

const (
	SourceRegex    Source = "regex"
	SourceJSONPath Source = "json_path"
	SourceLLM      Source = "llm"
)

type ArrivalOutcome string

const (
	ArrivalArrived   ArrivalOutcome = "arrived"
	ArrivalOnTheWay  ArrivalOutcome = "on_the_way"
	ArrivalNotComing ArrivalOutcome = "not_coming"
	ArrivalUnknown   ArrivalOutcome = "unknown"
)

type RecoveryAction string

const (
	RecoveryReschedule RecoveryAction = "reschedule"
	RecoveryTakeaway   RecoveryAction = "takeaway"
	RecoveryCancel     RecoveryAction = "cancel"
	RecoveryUnknown    RecoveryAction = "unknown"
)

// ErrNoResult means every tier failed for the payload. The record's status
// must stay put and the in-flight guard gets cleared for a later attempt.
var ErrNoResult = errors.New("extraction produced no result")

// complete reports whether r carries everything the flow needs.
//
// Order booking needs order text and an arrival time; arrival confirmation
// needs a definite arrival outcome; recovery needs a definite action (a
// reschedule without a new time keeps the previous one, so the time is not
// required).
func (r Result) complete(flow voice.Flow) bool {
	switch flow {
	case voice.FlowOrderBooking:
		return r.OrderDetails != "" && r.ExpectedArrivalTime != nil
	case voice.FlowArrivalConfirmation:
		return r.ArrivalOutcome != "" && r.ArrivalOutcome != ArrivalUnknown
	case voice.FlowRecovery:
		return r.RecoveryAction != "" && r.RecoveryAction != RecoveryUnknown
	}
	return false
}

// normalizeArrival folds payload vocabulary onto the arrival outcome enum.
// "cancel" during an arrival call means the guest is not coming.
func normalizeArrival(s string) ArrivalOutcome {
	switch canonicalToken(s) {
	case "arrived", "reached", "here":
		return ArrivalArrived
	case "on_the_way", "coming", "on_my_way":
		return ArrivalOnTheWay
	case "not_coming", "cancel", "cancelled", "canceled", "no":
		return ArrivalNotComing
	}
	return ArrivalUnknown
}

// normalizeRecovery folds payload vocabulary onto the recovery action enum.
func normalizeRecovery(s string) RecoveryAction {
	switch canonicalToken(s) {
	case "reschedule", "rescheduled", "rebook":
		return RecoveryReschedule
	case "takeaway", "take_away", "takeout", "take_out", "pickup", "pick_up", "parcel":
		return RecoveryTakeaway
	case "cancel", "cancelled", "canceled":
		return RecoveryCancel
	}
	return RecoveryUnknown
}

// canonicalToken lowercases a vocabulary value and folds separators so
// "On the way", "on-the-way" and "on_the_way" compare equal.
func canonicalToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
