package marketplace

import (
	"fmt"
	"time"
)

// TransientError covers failures that are worth retrying: 5xx responses,
// gateway errors and network-level timeouts.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient marketplace error: status %d", e.Status)
	}
	return fmt.Sprintf("transient marketplace error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError covers failures that must not be retried: auth failures,
// malformed requests and any other 4xx, plus error envelopes in a 200 body.
type FatalError struct {
	Status  int
	Message string
}

func (e *FatalError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("fatal marketplace error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("fatal marketplace error: status %d", e.Status)
}

// RateLimitedError is a 429. RetryAfter carries the server hint when one was
// provided and is zero otherwise.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by marketplace, retry after %s", e.RetryAfter)
	}
	return "rate limited by marketplace"
}
