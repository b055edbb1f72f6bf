package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// Scheduler job sentinels.
	ErrSchedulerJobNotFound = errors.New("scheduler job not found")

	// Job definition sentinels.
	ErrJobDefinitionNotFound = errors.New("job definition not found")

	// Execution sentinels.
	ErrExecutionNotFound = errors.New("execution not found")

	// Device sentinels.
	ErrDeviceNotFound = errors.New("device not found")

	// Target source sentinels.
	ErrUnknownNamedQuery    = errors.New("unknown named target query")
	ErrDeviceGroupNotFound  = errors.New("device group not found")
	ErrLiteralQueryRejected = errors.New("literal target query rejected")

	// Sink sentinels.
	ErrUnknownSinkTable     = errors.New("unknown sink table")
	ErrUnknownSinkOperation = errors.New("unknown sink operation")
)
