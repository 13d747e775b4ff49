package uploadqueue

import (
	"errors"
	"math"
	"time"
)

// RetryPolicy is exponential backoff with additive jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter is the upper bound of the random delay added to each backoff.
	Jitter time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      500 * time.Millisecond,
	}
}

// Backoff is the delay before retry number retry (0-based), without jitter:
// min(MaxDelay, BaseDelay * Multiplier^retry).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(retry))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Delay adds jitter to Backoff. r is a random number in [0, 1).
func (p RetryPolicy) Delay(retry int, r float64) time.Duration {
	return p.Backoff(retry) + time.Duration(r*float64(p.Jitter))
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
