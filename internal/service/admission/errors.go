package admission

import (
	"errors"
	"fmt"
	"time"
)

var ErrRateLimited = errors.New("rate limited")

// RateLimitedError carries how long the buyer should wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

func (e RateLimitedError) Unwrap() error {
	return ErrRateLimited
}
