package domain

import (
	"context"
	"errors"
)

// Error taxonomy shared by adapters, the ledger and the scheduler.
var (
	ErrTransientNetwork   = errors.New("transient network error")
	ErrRateLimited        = errors.New("rate limited")
	ErrAuth               = errors.New("authentication rejected")
	ErrSourceExhausted    = errors.New("source exhausted")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrInvalidQuery       = errors.New("invalid query")
)

// IsRetryable reports whether an adapter should retry the call locally.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork) || errors.Is(err, ErrRateLimited)
}

// IsFatalForSource reports whether the source must not be used again in this run.
func IsFatalForSource(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrSourceExhausted)
}

// IsCancellation reports context cancellation or deadline errors.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
