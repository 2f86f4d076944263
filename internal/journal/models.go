package journal

import "time"

// Entry is an immutable, append-only record of one customer lifecycle event.
//
// Invariants:
//   - Entries are never updated or deleted.
//   - customer_id is required; every entry belongs to exactly one customer.
//   - Journal writes are best-effort; callers must not fail an operation
//     because its journal entry could not be written.
type Entry struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`

	// Event indicates the lifecycle category of the record.
	Event EventType `json:"event"`

	// CallID references the provider call involved, when there is one.
	CallID string `json:"call_id,omitempty"`
	// Flow is the call flow involved, when there is one.
	Flow string `json:"flow,omitempty"`

	// Detail is a short human-readable description for internal ops.
	Detail string `json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventCustomerCreated  EventType = "customer_created"
	EventCallDispatched   EventType = "call_dispatched"
	EventDispatchFailed   EventType = "dispatch_failed"
	EventCallCompleted    EventType = "call_completed"
	EventCallFailed       EventType = "call_failed"
	EventStatusChanged    EventType = "status_changed"
	EventExtractionFailed EventType = "extraction_failed"
	EventNotificationSent EventType = "notification_sent"
)
