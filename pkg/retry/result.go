package retry

import "github.com/sitescope/crawlcore/pkg/failure"

// Result is the outcome of a Retry call: either a value produced within
// MaxAttempts, or the last error seen once attempts were exhausted or a
// non-retryable error was hit. attempts always counts the number of times
// fn was actually invoked (0 only for the degenerate MaxAttempts<1 case).
type Result[T any] struct {
	value    T
	err      failure.ClassifiedError
	attempts int
}

// NewSuccessResult wraps a successful value produced on the given attempt.
func NewSuccessResult[T any](value T, attempts int) Result[T] {
	return Result[T]{value: value, attempts: attempts}
}

// Value returns the produced value. It is the zero value of T on failure.
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the terminal error, or nil on success.
func (r Result[T]) Err() failure.ClassifiedError {
	return r.err
}

// Attempts returns how many times fn was invoked.
func (r Result[T]) Attempts() int {
	return r.attempts
}

// IsFailure reports whether the retry loop ended without a value.
func (r Result[T]) IsFailure() bool {
	return r.err != nil
}

// IsSuccess reports whether the retry loop produced a value.
func (r Result[T]) IsSuccess() bool {
	return r.err == nil
}
