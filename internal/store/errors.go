// Package store defines the sentinel errors shared by every record-store
// implementation. Each consumer package declares its own narrow Store
// interface; implementations under store/ satisfy the union and signal
// outcomes with these values.
package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyResolved is returned by the guarded journey claim when the
	// record was resolved by a concurrent path. Callers treat it as "someone
	// else won", not as a failure.
	ErrAlreadyResolved = errors.New("journey already resolved")

	// ErrStatusTransitionDenied is returned when a guarded status update
	// would regress or skip the monotonic experiment/send lifecycle.
	ErrStatusTransitionDenied = errors.New("status transition denied")
)
