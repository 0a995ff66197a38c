package recovery

import "errors"

var (
	// ErrStrategyNotFound indicates a strategy table entry names a strategy
	// that was never registered.
	ErrStrategyNotFound = errors.New("recovery strategy not found in registry")

	// ErrNoRetryableOperation indicates a retry was selected for a fault
	// that carries no operation to re-run.
	ErrNoRetryableOperation = errors.New("fault carries no retryable operation")

	// ErrRetryExhausted indicates the operation kept failing for the whole
	// retry budget.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)
