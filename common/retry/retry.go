// Package retry vends a small retry helper used to wait for dependencies at process start up.
//
// Retries up to either MaxAttempts, or till Timeout, or till RetryOn returns false. The wait between the i-th
// and (i+1)-th attempt is `min( BaseDelay * ( Exp ^ i + Jitter ), MaxBackoff )`.
package retry

import (
	"context"
	"math"
	"strings"
	"time"
)

// RetryOnFn decides whether to retry on given error
type RetryOnFn func(error) bool

type retryConfig struct {
	MaxAttempts int64
	MaxBackoff  time.Duration
	Timeout     time.Duration // zero means no timeout
	Jitter      float64
	BaseDelay   time.Duration
	Exp         float64
	RetryOn     RetryOnFn
}

type RetryOption func(*retryConfig)

func defaultRetryConfig() *retryConfig {
	return &retryConfig{
		MaxAttempts: math.MaxInt64,
		MaxBackoff:  time.Duration(math.MaxInt64),
		Exp:         1,
		RetryOn:     func(error) bool { return false },
	}
}

func WithMaxAttempts(a int64) RetryOption {
	return func(c *retryConfig) { c.MaxAttempts = a }
}

func WithTimeout(t time.Duration) RetryOption {
	return func(c *retryConfig) { c.Timeout = t }
}

func WithJitter(j float64) RetryOption {
	return func(c *retryConfig) { c.Jitter = j }
}

func WithBaseDelay(t time.Duration) RetryOption {
	return func(c *retryConfig) { c.BaseDelay = t }
}

func WithExp(e float64) RetryOption {
	return func(c *retryConfig) { c.Exp = e }
}

func WithMaxBackoff(b time.Duration) RetryOption {
	return func(c *retryConfig) { c.MaxBackoff = b }
}

func WithRetryOn(f RetryOnFn) RetryOption {
	return func(c *retryConfig) { c.RetryOn = f }
}

// Retry calls f and retries it according to opts.
func Retry(f func() error, opts ...RetryOption) error {
	return RetryContext(context.Background(), f, opts...)
}

// RetryContext is Retry bounded by ctx in addition to the configured timeout.
func RetryContext(ctx context.Context, f func() error, opts ...RetryOption) error {
	cfg := defaultRetryConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	// fire f first in case it doesn't need retry at all
	err := f()
	if !cfg.RetryOn(err) {
		return err
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	for i := int64(0); i <= cfg.MaxAttempts; i++ {
		factor := math.Pow(cfg.Exp, float64(i)) + cfg.Jitter
		// cap the delay to the max of time.Duration, which is ~290 years
		delay := time.Duration(math.Min(float64(cfg.BaseDelay.Nanoseconds())*factor, math.MaxInt64))
		if delay > cfg.MaxBackoff {
			delay = cfg.MaxBackoff
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
			err = f()
			if !cfg.RetryOn(err) {
				return err
			}
		case <-ctx.Done():
			t.Stop()
			return ErrRetryTimedOut
		}
	}
	return err
}

type errRetry string

func (e errRetry) Error() string {
	return string(e)
}

// ErrRetryTimedOut is returned when retries run out of time before f succeeded.
const ErrRetryTimedOut errRetry = "retry timed out"

// IsDepOffline reports whether e looks like a refused connection to a dependency.
func IsDepOffline(e error) bool {
	return e != nil && strings.Contains(e.Error(), "connect: connection refused")
}
