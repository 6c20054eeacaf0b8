package catalog

import "errors"

var (
	// ErrNotFound is returned when a user, product, tag or transaction id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the actor does not own the resource it mutates.
	ErrUnauthorized = errors.New("unauthorized")

	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrProductUnavailable = errors.New("product unavailable")

	// ErrDuplicate is returned by stores on a unique constraint violation.
	ErrDuplicate = errors.New("duplicate")

	// ErrReferenced is returned by stores when a delete is restricted by dependent rows.
	ErrReferenced = errors.New("referenced by other rows")

	ErrValidation = errors.New("validation error")

	// ErrStorage wraps any other persistence failure. The underlying driver error is
	// kept in the message only; of the cause, only context.DeadlineExceeded and
	// context.Canceled stay matchable with errors.Is.
	ErrStorage = errors.New("storage failure")
)
