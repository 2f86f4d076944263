package customers

import "time"

// Customer is the single record of one guest's outreach state.
//
// Invariants:
// - Owned exclusively by the Store; other components read and write it
//   through the Store API only and never hold a private copy across
//   operations.
// - Status only advances along the transition table below; once a record
//   leaves "new" it never returns.
// - ArrivalConfirmed is set true only on the transition into "arrived".
// - At most one call is in flight per customer at any time; CallInFlight
//   materializes that guard and is maintained by the scheduler, not the
//   store.
type Customer struct {
	ID     string `json:"customer_id" db:"customer_id"`
	Name   string `json:"name" db:"name"`
	Mobile string `json:"mobile" db:"mobile"`
	Email  string `json:"email,omitempty" db:"email"`

	Status Status `json:"status" db:"status"`

	OrderDetails        string     `json:"order_details,omitempty" db:"order_details"`
	ExpectedArrivalTime *time.Time `json:"expected_arrival_time,omitempty" db:"expected_arrival_time"`
	ArrivalConfirmed    bool       `json:"arrival_confirmed" db:"arrival_confirmed"`

	LastCallTime *time.Time `json:"last_call_time,omitempty" db:"last_call_time"`
	// LastCallID references the most recent provider call. It is kept after
	// the outcome is processed so the recording stays reachable.
	LastCallID string `json:"last_call_id,omitempty" db:"last_call_id"`

	Remarks string `json:"remarks,omitempty" db:"remarks"`

	CallInFlight bool `json:"call_in_flight" db:"call_in_flight"`
	// CallAttempts counts consecutive unproductive calls for the current
	// phase (dispatch failures, failed calls, "on the way" holds). It resets
	// to zero whenever an outcome advances the status.
	CallAttempts int `json:"call_attempts" db:"call_attempts"`

	// Notified marks that the one-time reservation notification has fired.
	Notified bool `json:"notified" db:"notified"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusNew             Status = "new"
	StatusCalled          Status = "called"
	StatusOrderConfirmed  Status = "order_confirmed"
	StatusArrived         Status = "arrived"
	StatusNoShow          Status = "no_show"
	StatusFollowUpPending Status = "follow_up_pending"
	StatusResolved        Status = "resolved"
)

// transitions lists the allowed destinations per source status:
//
//	new             -> called                     (order-booking call dispatched)
//	called          -> order_confirmed            (extraction yields order + arrival time)
//	order_confirmed -> arrived | no_show          (arrival call outcome; "on the way" leaves it unchanged)
//	no_show         -> order_confirmed | resolved (recovery: reschedule / takeaway / cancel)
//
// arrived and resolved are terminal. follow_up_pending is reserved for
// manual staff workflows and has no scheduler edges.
var transitions = map[Status][]Status{
	StatusNew:            {StatusCalled},
	StatusCalled:         {StatusOrderConfirmed},
	StatusOrderConfirmed: {StatusArrived, StatusNoShow},
	StatusNoShow:         {StatusOrderConfirmed, StatusResolved},
}

// ValidTransition reports whether moving from one status to another follows
// the lifecycle table. A same-status "transition" is treated as a no-op and
// allowed.
func ValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the known lifecycle statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNew, StatusCalled, StatusOrderConfirmed, StatusArrived,
		StatusNoShow, StatusFollowUpPending, StatusResolved:
		return true
	}
	return false
}
