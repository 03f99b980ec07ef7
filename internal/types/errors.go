package types

import "errors"

// Domain error taxonomy. Services return these (usually wrapped with %w and
// context) and the HTTP edge maps them to status codes in pkg/response.
var (
	// ErrValidation means the input was malformed and nothing was mutated.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means the referenced entity (order, task, pair, quote)
	// does not exist or is no longer in a state the operation applies to.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate means an order with the same (exchange, exchange_order_id)
	// already exists. Callers should treat the order as already submitted.
	ErrDuplicate = errors.New("duplicate order")

	// ErrInvalidTransition means a status change would violate lifecycle
	// monotonicity, e.g. executed back to pending.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDanglingReference means a pair references an order that does not exist.
	ErrDanglingReference = errors.New("dangling order reference")

	// ErrStorageUnavailable means the backing store is unreachable. Transient;
	// callers may retry with backoff.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
