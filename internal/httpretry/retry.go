// Package httpretry generalizes retry.go's retryCall/retryBackoff/retryDelay
// (originally the Provider-retrying machinery behind oasis.WithRetry) into a
// plain, Provider-agnostic helper any component making HTTP calls can reuse:
// the Telegram frontend and the voice transcriber both wrap their raw HTTP
// round trips with Do instead of duplicating backoff logic. Logging uses
// *slog.Logger rather than retry.go's log.Printf, matching the WithLogger
// convention every other component in this module follows (runner.go,
// store/filestore, frontend/telegram).
package httpretry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hotaru-dev/takopi"
)

// Config holds retry tuning, with the same defaults as oasis.WithRetry.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger
}

// Option configures a Config.
type Option func(*Config)

// MaxAttempts sets the maximum number of attempts (default: 3).
func MaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

// BaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles: base, 2x, 4x, ...
func BaseDelay(d time.Duration) Option {
	return func(c *Config) { c.BaseDelay = d }
}

// WithLogger sets the logger retry attempts are reported on. A discarding
// no-op logger is the default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func newConfig(opts []Option) Config {
	c := Config{MaxAttempts: 3, BaseDelay: time.Second, Logger: slog.New(discardHandler{})}
	for _, o := range opts {
		o(&c)
	}
	return c
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

// Do calls fn up to Config.MaxAttempts times, retrying only on a transient
// *takopi.ErrHTTP (429 or 503), sleeping between attempts with exponential
// backoff floored by the error's RetryAfter value when present.
func Do[T any](ctx context.Context, name string, fn func() (T, error), opts ...Option) (T, error) {
	c := newConfig(opts)
	var zero T
	var last error
	for i := 0; i < c.MaxAttempts; i++ {
		result, err := fn()
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		c.Logger.Debug("httpretry: transient error, retrying", "name", name, "status", statusOf(err), "attempt", i+1, "max_attempts", c.MaxAttempts)
		if i < c.MaxAttempts-1 {
			delay := retryDelay(c.BaseDelay, i, err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return zero, last
}

// isTransient reports whether err is a retryable *takopi.ErrHTTP (429 or 503).
func isTransient(err error) bool {
	var e *takopi.ErrHTTP
	return errors.As(err, &e) && (e.Status == 429 || e.Status == 503)
}

func statusOf(err error) int {
	var e *takopi.ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func retryAfterOf(err error) time.Duration {
	var e *takopi.ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay computes the delay before retry attempt i: the exponential
// backoff floor, raised to the server's Retry-After value when that's larger.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryBackoff returns the delay for retry i (0-indexed): base * 2^i, plus
// up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}
