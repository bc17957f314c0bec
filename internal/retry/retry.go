// Package retry provides the single retry policy applied to every external
// call: bounded attempts with exponential backoff, honouring server supplied
// Retry-After hints. Operations mark non-retryable failures with Permanent.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when every attempt failed with a retryable error.
// The last cause is wrapped alongside it.
var ErrExhausted = errors.New("retries exhausted")

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	Attempts    int           `mapstructure:"attempts"`
	Initial     time.Duration `mapstructure:"initial"`
	Max         time.Duration `mapstructure:"max"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
	MaxHintWait time.Duration `mapstructure:"max_hint_wait"`
}

// Default returns the policy used when nothing is configured: three attempts
// starting at two seconds and doubling.
func Default() Policy {
	return Policy{
		Attempts:    3,
		Initial:     2 * time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
		MaxHintWait: 2 * time.Minute,
	}
}

// Notify is called before each sleep with the failed attempt's error.
type Notify func(err error, wait time.Duration)

// Do runs op until it succeeds, returns a permanent error, the context ends
// or the attempts are used up. Permanent errors are returned unwrapped;
// exhaustion is reported as ErrExhausted wrapping the last cause.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify Notify) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, notify)
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), notify Notify) (T, error) {
	p = p.normalized()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	exp.MaxInterval = p.Max
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = p.Jitter

	var permanent bool
	wrapped := func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			permanent = true
			return v, backoff.Permanent(perm.Err)
		}
		var hint *HintError
		if errors.As(err, &hint) {
			wait := min(hint.After, p.MaxHintWait)
			return v, &backoff.RetryAfterError{Duration: wait}
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(p.Attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}

	v, err := backoff.Retry(ctx, wrapped, opts...)
	switch {
	case err == nil:
		return v, nil
	case permanent:
		return v, err
	case ctx.Err() != nil:
		return v, ctx.Err()
	default:
		return v, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.Attempts, err)
	}
}

func (p Policy) normalized() Policy {
	d := Default()
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	if p.MaxHintWait <= 0 {
		p.MaxHintWait = d.MaxHintWait
	}
	return p
}

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Err error
}

// Permanent wraps err so that Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Error returns the wrapped error's message.
func (e *PermanentError) Error() string { return e.Err.Error() }

// Unwrap returns the wrapped error for use with errors.Is/As.
func (e *PermanentError) Unwrap() error { return e.Err }

// HintError is a retryable failure for which the server asked the caller to
// wait a specific duration (HTTP 429 with Retry-After).
type HintError struct {
	After time.Duration
	Err   error
}

// Error returns the wrapped error's message with the requested wait.
func (e *HintError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.After)
}

// Unwrap returns the wrapped error for use with errors.Is/As.
func (e *HintError) Unwrap() error { return e.Err }

// IsTransient reports whether err is the result of exhausted retries.
func IsTransient(err error) bool {
	return errors.Is(err, ErrExhausted)
}
