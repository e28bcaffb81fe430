package database

import "errors"

// Review queue state machine errors.
var (
	// ErrReviewNotFound is returned when the review item does not exist.
	ErrReviewNotFound = errors.New("review item not found")
	// ErrReviewNotPending is returned when resolving an item that has
	// already been resolved or skipped. Prior state is left untouched.
	ErrReviewNotPending = errors.New("review item is not pending")
)
