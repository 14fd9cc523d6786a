package executor

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidActionType is returned for action types outside the closed set
// or with no registered handler. Caller error: never retried.
var ErrInvalidActionType = errors.New("invalid action type")

// ErrInvalidInput is returned for malformed execution requests.
var ErrInvalidInput = errors.New("invalid input")

// classified wraps a handler error with its retry class.
type classified struct {
	transient bool
	err       error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Transient marks a handler failure as recoverable (timeout, 5xx): the
// executor retries it up to the configured bound.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{transient: true, err: err}
}

// Permanent marks a handler failure as unrecoverable (validation, 4xx):
// surfaced immediately, never retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{transient: false, err: err}
}

// IsTransient reports whether the error should be retried. Deadline and
// cancellation errors count as transient per the timeout contract;
// unclassified errors are treated as permanent so an ambiguous failure
// cannot repeat a side effect.
func IsTransient(err error) bool {
	var c *classified
	if errors.As(err, &c) {
		return c.transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func attemptError(attempt int, err error) error {
	return fmt.Errorf("attempt %d: %w", attempt, err)
}
