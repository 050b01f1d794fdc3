package gateway

import "errors"

// Domain errors for the gateway package. Check with errors.Is.
var (
	// ErrEntityNotFound is returned when an entity id is not known to the gateway.
	ErrEntityNotFound = errors.New("gateway: entity not found")

	// ErrCommandFailed is returned when a state-change command cannot be delivered.
	ErrCommandFailed = errors.New("gateway: command failed")

	// ErrInvalidPayload is returned when a bridge state message cannot be parsed.
	ErrInvalidPayload = errors.New("gateway: invalid state payload")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("gateway: handler cannot be nil")

	// ErrNotReady is returned when expected entities never reported state.
	ErrNotReady = errors.New("gateway: entities not reported")
)
