package schedule

import (
	"time"

	"tablecall/internal/customers"
	"tablecall/internal/voice"
)

// Rules decide, from time and status alone, which flow a customer is due
// for.
//
// Rules:
//   - Priority follows the lifecycle: order booking first, then arrival
//     confirmation, then recovery. The first match wins.
//   - A record with a call in flight is never due.
//   - A called record is waiting on its outcome, not on a timer; only a
//     manual trigger re-dials it.
//   - CallAttempts bounds retries. Each retry backs off exponentially from
//     the previous attempt, and once MaxCallAttempts is reached the record
//     waits for staff to intervene.
//   - LastCallTime advances on every attempt, so the recovery cooldown
//     also spaces recovery retries.
type Rules struct {
	// RecoveryCooldown is the wait after a missed visit before the
	// follow-up call goes out.
	RecoveryCooldown time.Duration
	// MaxCallAttempts caps consecutive unproductive calls per phase.
	MaxCallAttempts int
	// RetryBackoffBase is the delay before the first retry; it doubles
	// with each further attempt.
	RetryBackoffBase time.Duration
}

func (r Rules) withDefaults() Rules {
	out := r
	if out.RecoveryCooldown <= 0 {
		out.RecoveryCooldown = 30 * time.Minute
	}
	if out.MaxCallAttempts <= 0 {
		out.MaxCallAttempts = 3
	}
	if out.RetryBackoffBase <= 0 {
		out.RetryBackoffBase = 10 * time.Minute
	}
	return out
}

// Decision names the flow a due customer should be called with.
type Decision struct {
	Flow   voice.Flow
	Reason string
}

// Evaluate returns the flow c is due for at now, or false when no call
// applies.
func (r Rules) Evaluate(c customers.Customer, now time.Time) (Decision, bool) {
	if c.CallInFlight {
		return Decision{}, false
	}
	if r.MaxCallAttempts > 0 && c.CallAttempts >= r.MaxCallAttempts {
		return Decision{}, false
	}
	if !r.backoffElapsed(c, now) {
		return Decision{}, false
	}

	switch c.Status {
	case customers.StatusNew:
		return Decision{Flow: voice.FlowOrderBooking, Reason: "new customer"}, true
	case customers.StatusOrderConfirmed:
		if c.ArrivalConfirmed || c.ExpectedArrivalTime == nil {
			return Decision{}, false
		}
		if now.Before(*c.ExpectedArrivalTime) {
			return Decision{}, false
		}
		return Decision{Flow: voice.FlowArrivalConfirmation, Reason: "expected arrival time passed"}, true
	case customers.StatusNoShow:
		if c.LastCallTime != nil && now.Sub(*c.LastCallTime) < r.RecoveryCooldown {
			return Decision{}, false
		}
		return Decision{Flow: voice.FlowRecovery, Reason: "missed visit follow-up"}, true
	}
	return Decision{}, false
}

// backoffElapsed reports whether the retry window since the last attempt
// has passed. First attempts are never delayed.
func (r Rules) backoffElapsed(c customers.Customer, now time.Time) bool {
	if c.CallAttempts == 0 || c.LastCallTime == nil || r.RetryBackoffBase <= 0 {
		return true
	}
	shift := c.CallAttempts - 1
	if shift > 6 {
		shift = 6
	}
	return now.Sub(*c.LastCallTime) >= r.RetryBackoffBase<<shift
}

// flowForStatus maps a status to the flow a manual trigger or an untagged
// outcome should use. Terminal and staff-managed statuses map to "".
func flowForStatus(status customers.Status) voice.Flow {
	switch status {
	case customers.StatusNew, customers.StatusCalled:
		return voice.FlowOrderBooking
	case customers.StatusOrderConfirmed:
		return voice.FlowArrivalConfirmation
	case customers.StatusNoShow:
		return voice.FlowRecovery
	}
	return ""
}
