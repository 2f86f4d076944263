package customers

import "errors"

var (
	// ErrNotFound means no record exists for the given customer id.
	ErrNotFound = errors.New("customer not found")
	// ErrInvalidRecord means the mutation input was rejected; nothing was
	// written.
	ErrInvalidRecord = errors.New("invalid customer record")
	// ErrStorage wraps persistence faults. The prior on-disk/in-table state
	// is retained whenever it is returned.
	ErrStorage = errors.New("customer storage failure")
)
