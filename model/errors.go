package model

import (
	"fmt"
	"time"
)

// ConfigurationError reports a malformed configuration or an unrunnable
// unit set. It aborts the run before any execution.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// ResourceUnavailableError reports a resource that cannot take a shard.
type ResourceUnavailableError struct {
	Resource string
	State    string
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("resource %s unavailable (%s)", e.Resource, e.State)
}

// ExecutionTimeoutError reports an attempt that exceeded its time budget.
type ExecutionTimeoutError struct {
	Timeout time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.Timeout)
}

// ExecutionFailedError reports an unexpected exit status.
type ExecutionFailedError struct {
	Outcome  Outcome
	ExitCode int
	Expected int
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("execution %s: exit code %d, expected %d", e.Outcome, e.ExitCode, e.Expected)
}

// RecoveryFailedError reports a resource that could not be returned to
// health between attempts.
type RecoveryFailedError struct {
	Resource string
	Err      error
}

func (e *RecoveryFailedError) Error() string {
	return fmt.Sprintf("recovery of %s failed: %v", e.Resource, e.Err)
}

func (e *RecoveryFailedError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a result store read or write failure.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
