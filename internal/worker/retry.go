package worker

import (
	"math"
	"time"

	"checkinsync/internal/models"
)

// RetryPolicy bounds how often an intent is submitted.
//
// SubmitDelay is the fixed pause between submissions inside a pass. When
// InitialBackoff is positive an intent that already failed is additionally
// held back until lastAttemptAt + NextDelay(attemptCount).
type RetryPolicy struct {
	MaxAttempts    int
	SubmitDelay    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = models.DefaultMaxAttempts
	}
	if r.SubmitDelay < 0 {
		r.SubmitDelay = 0
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}
	return r
}

// NextDelay returns backoff for a given attempt (1-based) with clamping.
// It is zero when backoff is disabled.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if r.InitialBackoff <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	delay := float64(r.InitialBackoff) * math.Pow(factor, float64(attempt-1))
	if r.MaxBackoff > 0 && delay > float64(r.MaxBackoff) {
		return r.MaxBackoff
	}
	if delay > float64(math.MaxInt64/2) {
		return time.Duration(math.MaxInt64 / 2)
	}
	return time.Duration(delay)
}

// Due reports whether intent may be submitted at now.
func (r RetryPolicy) Due(intent *models.CheckInIntent, now time.Time) bool {
	if r.InitialBackoff <= 0 || intent.AttemptCount == 0 || intent.LastAttemptAt == nil {
		return true
	}
	return !now.Before(intent.LastAttemptAt.Add(r.NextDelay(intent.AttemptCount)))
}
