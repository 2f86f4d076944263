package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// OutreachSummary aggregates the customer book and the call activity inside
// one time range. Status counts reflect the book at report time; call counts
// come from journal events with CreatedAt in the range.
type OutreachSummary struct {
	Range TimeRange `json:"range"`

	TotalCustomers int `json:"total_customers"`
	InFlightCalls  int `json:"in_flight_calls"`

	New             int `json:"new"`
	Called          int `json:"called"`
	OrderConfirmed  int `json:"order_confirmed"`
	Arrived         int `json:"arrived"`
	NoShow          int `json:"no_show"`
	FollowUpPending int `json:"follow_up_pending"`
	Resolved        int `json:"resolved"`

	CallsDispatched    int `json:"calls_dispatched"`
	CallsCompleted     int `json:"calls_completed"`
	CallsFailed        int `json:"calls_failed"`
	ExtractionFailures int `json:"extraction_failures"`
	NotificationsSent  int `json:"notifications_sent"`

	// ConfirmationRate is the share of the book that reached a confirmed
	// reservation or beyond. ShowRate is arrivals over everyone whose
	// reservation ran its course.
	ConfirmationRate float64 `json:"confirmation_rate"`
	ShowRate         float64 `json:"show_rate"`
}
