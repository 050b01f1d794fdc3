package redis

import "errors"

var (
	// ErrDisabled is returned by Connect when the redis section is off.
	ErrDisabled = errors.New("redis: disabled in configuration")

	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrNotFound is returned by GetJSON for a missing key.
	ErrNotFound = errors.New("redis: key not found")
)
