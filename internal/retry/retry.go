// Package retry runs store operations under a single retry policy.
//
// Only errors classified as transient are retried; anything else is returned
// on the first attempt.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	goretry "github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Backoff selects how the wait between attempts grows.
type Backoff int

const (
	Constant Backoff = iota
	Exponential
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int
	Delay       time.Duration
	Backoff     Backoff
	// MaxDelay caps a single wait when non-zero.
	MaxDelay time.Duration
	// Jitter adds up to this much random time to each wait.
	Jitter time.Duration
	// Retryable classifies errors. Nil means IsTransient.
	Retryable func(error) bool
}

// Default is 3 attempts, 1s apart, retrying transient store errors.
var Default = Policy{
	MaxAttempts: 3,
	Delay:       time.Second,
	Backoff:     Constant,
}

func (p Policy) backoff() goretry.Backoff {
	delay := p.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}

	var b goretry.Backoff
	if p.Backoff == Exponential {
		b = goretry.NewExponential(delay)
	} else {
		b = goretry.NewConstant(delay)
	}
	if p.Jitter > 0 {
		b = goretry.WithJitter(p.Jitter, b)
	}
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return goretry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempts are used up, or ctx is done. It returns fn's last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsTransient reports whether err is a lock or contention error from SQLite
// that is likely to succeed on a later attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "prepared statement")
}
