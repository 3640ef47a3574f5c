package util

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientPolicy configures RetryTransient.
type TransientPolicy struct {
	MaxTries int
	Backoff  time.Duration
}

// DefaultTransientPolicy is used for per-unit persistence work such as merging one triplet.
var DefaultTransientPolicy = TransientPolicy{MaxTries: 3, Backoff: time.Second}

// RetryTransient retries fn only while it fails with a connection-loss error,
// sleeping a fixed backoff between attempts. Any other error is returned as is.
func RetryTransient[T any](ctx context.Context, policy TransientPolicy, fn func(context.Context, int) (T, error)) (T, error) {
	if policy.MaxTries <= 0 {
		policy.MaxTries = 1
	}
	var zero T
	var lastErr error
	for attempt := 0; attempt < policy.MaxTries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(policy.Backoff):
			}
		}
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if !IsTransientError(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

var transientMessages = []string{
	"conn closed",
	"connection reset",
	"broken pipe",
	"server has gone away",
	"lost connection",
	"connection refused",
	"unexpected eof",
}

// IsTransientError reports whether err looks like a dropped database connection.
func IsTransientError(err error) bool {
	if err == nil || isContextErr(err) {
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 is "connection exception", 57P01-57P03 are shutdown notices
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
