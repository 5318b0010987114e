package gateway

import (
	"fmt"
	"time"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindRateLimited  Kind = "rate_limited"
	KindTimeout      Kind = "timeout"
	KindUnauthorized Kind = "unauthorized"
	KindUnavailable  Kind = "unavailable"
)

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure is transient. Unauthorized is never
// retried.
func (e *Error) Retryable() bool {
	return e.Kind != KindUnauthorized
}
