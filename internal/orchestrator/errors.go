package orchestrator

import "errors"

var (
	// ErrNoProvidersAvailable is returned when no provider passes the
	// availability filter.
	ErrNoProvidersAvailable = errors.New("no providers available")

	// ErrUnexpectedExecution marks a failure that was neither a selection
	// nor a transport error, such as a panic inside a transport.
	ErrUnexpectedExecution = errors.New("unexpected execution error")

	// ErrInvalidRequest is returned for task requests that fail validation.
	ErrInvalidRequest = errors.New("invalid task request")
)
