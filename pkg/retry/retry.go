// Package retry holds the single bounded retry loop shared by every call
// site that used to roll its own sleep-and-retry cycle.
package retry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config bounds a retry loop. Attempts counts invocations of the function,
// not repeats, so Attempts=1 means no retry at all.
type Config struct {
	Attempts int
	Interval time.Duration
}

// Do invokes fn up to cfg.Attempts times, sleeping cfg.Interval between
// attempts. The loop stops early when fn succeeds, when fn reports the error
// as permanent, or when the context is cancelled. The last error is returned.
func Do(ctx context.Context, cfg Config, description string, fn func(ctx context.Context) error) error {
	var err error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if permanent(err) {
			return err
		}
		if attempt == cfg.Attempts {
			break
		}
		log.Warnf("%s: %s (attempt %d of %d, retrying in %s)", description, err, attempt, cfg.Attempts, cfg.Interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}

	return err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps an error so that Do gives up immediately instead of
// burning through the remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func permanent(err error) bool {
	_, ok := err.(*permanentError)
	return ok
}
