package engine

import "errors"

var (
	// ErrNotFound is returned when no live object exists for an identifier.
	ErrNotFound = errors.New("not found")

	// ErrInvalidReference is returned when a write references an entity that
	// does not exist or has been tombstoned. The write is rejected with no
	// state change; callers must create entities before attaching facts.
	ErrInvalidReference = errors.New("invalid entity reference")
)
