package apierr

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry defaults.
const (
	DefaultMaxRetries      = 3
	DefaultBaseDelay       = 5 * time.Second
	DefaultMaxDelay        = 60 * time.Second
	DefaultExponentialBase = 2.0
)

// RetryConfig holds retry parameters for exponential backoff.
//
// All fields must be non-negative. Invalid values are normalized:
//   - MaxRetries < 0 becomes 0 (single attempt)
//   - BaseDelay <= 0 becomes 1ms
//   - MaxDelay <= 0 or below BaseDelay becomes BaseDelay
//   - ExponentialBase < 1 becomes DefaultExponentialBase
type RetryConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// DefaultRetryConfig returns 3 retries starting at 5s, doubling, capped at 60s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		BaseDelay:       DefaultBaseDelay,
		MaxDelay:        DefaultMaxDelay,
		ExponentialBase: DefaultExponentialBase,
	}
}

// Normalized returns a copy with every field valid.
func (c RetryConfig) Normalized() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.ExponentialBase < 1 {
		c.ExponentialBase = DefaultExponentialBase
	}
	return c
}

// Schedule returns the delay sequence for one model: BaseDelay, then
// multiplied by ExponentialBase on every step, capped at MaxDelay, with no
// jitter. It yields backoff.Stop after MaxRetries delays.
func (c RetryConfig) Schedule() backoff.BackOff {
	c = c.Normalized()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.BaseDelay
	exp.Multiplier = c.ExponentialBase
	exp.RandomizationFactor = 0
	exp.MaxInterval = c.MaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithMaxRetries(exp, uint64(c.MaxRetries))
}

// Delays lists the full schedule, mostly for display and tests.
func (c RetryConfig) Delays() []time.Duration {
	var out []time.Duration
	s := c.Schedule()
	for d := s.NextBackOff(); d != backoff.Stop; d = s.NextBackOff() {
		out = append(out, d)
	}
	return out
}
