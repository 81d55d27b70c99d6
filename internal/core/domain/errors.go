package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds surfaced by the authentication engine. Services wrap them with
// context using %w; transports classify with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrAuthentication     = errors.New("authentication failed")
	ErrExpired            = errors.New("credential expired")
	ErrReplay             = errors.New("replay detected")
	ErrDependencyDegraded = errors.New("dependency degraded")
	ErrRateLimited        = errors.New("rate limited")
)

// RateLimitedError carries the wait hint for a throttled caller.
type RateLimitedError struct {
	Bucket     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Bucket, e.RetryAfter)
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// IsAuthFailure reports whether err should be presented to clients as a
// generic credential failure.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrExpired) || errors.Is(err, ErrReplay)
}
