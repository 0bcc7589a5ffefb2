package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrNotFound is returned when a node or edge id does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input. It is always raised before any
// mutation, so a rejected request leaves no partial state behind.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// isBusy reports whether err looks like a transient SQLite lock failure.
// modernc.org/sqlite surfaces these as SQLITE_BUSY / SQLITE_LOCKED text.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

// withRetry runs op, retrying transient lock failures with bounded
// fibonacci backoff. Deterministic errors (validation, not-found,
// constraint violations) surface on the first attempt.
func withRetry(ctx context.Context, op func(context.Context) error) error {
	b := retry.WithMaxRetries(3, retry.NewFibonacci(25*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			if isBusy(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}
