package irbem

import "errors"

var (
	// ErrOpenFieldLine is returned when the traced field line does not close
	// within the tracer's sampling limit.
	ErrOpenFieldLine = errors.New("open field line")

	// ErrInvalidInput is returned for malformed or inconsistent points,
	// model inputs or options.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupported is returned when a backend cannot evaluate a routine or
	// coordinate system.
	ErrUnsupported = errors.New("not supported by backend")

	// ErrBackendUnavailable is returned when the native library cannot be
	// loaded.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
