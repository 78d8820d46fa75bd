// Package retry implements the backoff policy used for calls to rate-limited
// upstream services.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// RetryAfterer is implemented by errors that carry a server-requested delay.
type RetryAfterer interface {
	RetryAfter() (time.Duration, bool)
}

// Policy decides whether and how long to wait before repeating a failed call.
// Rate-limited responses (429) are retried without limit after the
// server-specified delay. Server errors (5xx) are retried up to MaxRetries
// times with exponential backoff plus jitter. Everything else is returned as is.
type Policy struct {
	MaxRetries        int
	BackoffBase       time.Duration
	Jitter            time.Duration
	MaxBackoff        time.Duration // zero means uncapped
	DefaultRetryAfter time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(status int, attempt int, wait time.Duration)
}

// Default returns the policy used for wiki page fetches.
func Default() Policy {
	return Policy{
		MaxRetries:        5,
		BackoffBase:       1500 * time.Millisecond,
		Jitter:            time.Second,
		DefaultRetryAfter: 60 * time.Second,
	}
}

// WithMaxRetries returns a copy of p with a different 5xx retry cap.
func (p Policy) WithMaxRetries(n int) Policy {
	p.MaxRetries = n
	return p
}

// Do runs fn until it succeeds or the policy gives up.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retries := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return errors.Join(err, cerr)
		}

		status := Status(err)
		var wait time.Duration
		switch {
		case status == http.StatusTooManyRequests:
			wait = p.retryAfter(err)
		case status >= 500:
			if retries >= p.MaxRetries {
				return err
			}
			wait = p.Backoff(retries)
			retries++
		default:
			return err
		}

		if p.OnRetry != nil {
			p.OnRetry(status, retries, wait)
		}
		if serr := p.sleep(ctx, wait); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

// Backoff returns BackoffBase * 2^attempt plus up to Jitter of random delay.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BackoffBase * time.Duration(1<<uint(attempt))
	if p.MaxBackoff > 0 && base > p.MaxBackoff {
		base = p.MaxBackoff
	}
	if p.Jitter > 0 {
		base += time.Duration(rand.Int64N(int64(p.Jitter)))
	}
	return base
}

func (p Policy) retryAfter(err error) time.Duration {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		if d, ok := ra.RetryAfter(); ok {
			return d
		}
	}
	return p.DefaultRetryAfter
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Status extracts the HTTP status from err, or 0 when it carries none.
func Status(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// IsRetryable reports whether the policy would retry err.
func IsRetryable(err error) bool {
	s := Status(err)
	return s == http.StatusTooManyRequests || s >= 500
}

// Sleep waits for d, returning early with the context error if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
