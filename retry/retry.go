// Package retry implements the one backoff policy used by the feed poller,
// the downloader's HTTP path and the uploader.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"feedrelay/models"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 3 * time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxDelay    = time.Minute

	// maxRateLimitWaits bounds how many platform-mandated sleeps one call may take.
	maxRateLimitWaits = 10
)

// ErrExhausted is wrapped by Do when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how an operation is retried.
type Policy struct {
	Name        string        // used in log lines
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt
	Multiplier  float64       // 1 keeps the delay fixed, 2 doubles it
	MaxDelay    time.Duration // 0 means uncapped
	Jitter      float64       // 0..1, fraction of the delay randomised either way

	sleep func(ctx context.Context, d time.Duration) error
}

// Default returns the upload policy: 3 attempts starting at 3s, doubling.
func Default(name string) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		MaxDelay:    DefaultMaxDelay,
	}
}

// FromConfig builds a policy from its configured form, filling zero values with defaults.
func FromConfig(name string, c models.RetryConfig) Policy {
	p := Default(name)
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelay > 0 {
		p.BaseDelay = c.BaseDelay
	}
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	if c.MaxDelay > 0 {
		p.MaxDelay = c.MaxDelay
	}
	if c.Jitter > 0 {
		p.Jitter = math.Min(c.Jitter, 1)
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))

	if p.Jitter > 0 {
		delay *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RateLimited is implemented by errors carrying a platform-mandated wait.
type RateLimited interface {
	error
	RetryAfter() time.Duration
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs op until it succeeds, returns a permanent error, or the attempts run out.
// Rate-limit errors sleep for their RetryAfter and do not use up an attempt.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	waits := 0
	for attempt := 1; attempt <= attempts; {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) || errors.Is(err, context.Canceled) {
			return err
		}

		var rl RateLimited
		if errors.As(err, &rl) && waits < maxRateLimitWaits {
			waits++
			log.Printf("[%s] rate limited, sleeping %v (attempt %d/%d not consumed)", p.Name, rl.RetryAfter(), attempt, attempts)
			if err := sleep(ctx, rl.RetryAfter()); err != nil {
				return err
			}
			continue
		}

		if attempt == attempts {
			break
		}
		delay := p.Backoff(attempt)
		log.Printf("[%s] attempt %d/%d failed: %v; retrying in %v", p.Name, attempt, attempts, err, delay)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		attempt++
	}

	return fmt.Errorf("%s: %w after %d attempts: %w", p.Name, ErrExhausted, attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
