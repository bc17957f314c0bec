package sheet

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/papapumpkin/contestguard/internal/retry"
)

// call runs one API request under the retry policy, bounding each attempt
// with the configured timeout. All writes address fixed ranges, so repeating
// one is harmless.
func call[T any](ctx context.Context, s *Sheet, what string, op func(ctx context.Context) (T, error)) (T, error) {
	return retry.Value(ctx, s.policy, func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		v, err := op(ctx)
		return v, classify(err)
	}, func(err error, wait time.Duration) {
		s.logger.Warn("sheets call failed, retrying", "call", what, "error", err, "wait", wait)
	})
}

// classify maps an API error onto the retry policy: 429 and 5xx are
// retryable, any other API status is permanent. Transport failures and
// per-call timeouts are retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests:
		if d := retryAfter(gerr.Header.Get("Retry-After")); d > 0 {
			return &retry.HintError{After: d, Err: err}
		}
		return err
	case gerr.Code >= http.StatusInternalServerError:
		return err
	default:
		return retry.Permanent(err)
	}
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
