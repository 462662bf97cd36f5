package dispatch

import "errors"

var (
	// ErrNotFound reports an id the dispatcher is not tracking: never
	// submitted, or already evicted by retention.
	ErrNotFound = errors.New("request not found")

	// ErrStopped rejects submissions while the dispatcher is not running.
	ErrStopped = errors.New("dispatcher stopped")

	// ErrFinished rejects Cancel on a request that already reached a
	// terminal status.
	ErrFinished = errors.New("request already finished")
)
