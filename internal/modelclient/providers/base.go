package providers

import (
	"context"
	"errors"
	"time"

	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
)

// RetryPolicy bounds how many times a provider's outbound call is
// retried and how long each retry backs off, shared across the four
// provider implementations in this package.
type RetryPolicy struct {
	maxRetries int
	retryDelay time.Duration
}

// NewRetryPolicy builds a RetryPolicy, defaulting either argument when
// left zero.
func NewRetryPolicy(maxRetries int, retryDelay time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return RetryPolicy{
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Retry executes op with linear backoff, retrying only errors isRetryable
// accepts. A nil isRetryable falls back to DefaultIsRetryable.
func (r *RetryPolicy) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	if isRetryable == nil {
		isRetryable = DefaultIsRetryable
	}
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if !isRetryable(err) {
				return err
			}
			if attempt >= r.maxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return lastErr
}

// DefaultIsRetryable classifies an error by this engine's own
// modelclient sentinel taxonomy rather than a provider-specific status
// code: an endpoint that is merely unreachable or timed out is worth
// retrying; a model that doesn't exist or a response the engine failed
// to parse is not, since retrying would just repeat the same failure.
func DefaultIsRetryable(err error) bool {
	return errors.Is(err, modelclient.ErrEndpointUnreachable) || errors.Is(err, modelclient.ErrInvocationTimeout)
}
