package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"voltiq/internal/domain"
)

// Policy describes the retry behavior for overloaded model calls: a bounded
// number of attempts with exponential backoff between them.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the sleep before the first retry; each further retry
	// doubles it.
	BaseDelay time.Duration

	// Retryable reports whether an error warrants another attempt.
	Retryable func(error) bool

	// Sleep waits for the given duration or until the context is done.
	// Left nil it uses a timer; tests inject their own.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the gateway's standard policy: three attempts with
// delays of base and 2*base between them, retrying only overload errors.
func DefaultPolicy(baseDelay time.Duration) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   baseDelay,
		Retryable:   IsOverloaded,
	}
}

// Do runs fn until it succeeds, the error is not retryable, the attempts
// are exhausted or the context ends. It returns the last error.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, fn func(ctx context.Context, attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepTimer
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.BaseDelay << (attempt - 1)
			logger.Warn("model overloaded, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay))
			if serr := sleep(ctx, delay); serr != nil {
				return serr
			}
		}

		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !p.Retryable(err) {
			return err
		}
	}
	return err
}

// IsOverloaded reports whether err is an overload signal from the model
// API (HTTP 529) or the gateway's own overload sentinel.
func IsOverloaded(err error) bool {
	if errors.Is(err, domain.ErrOverloaded) {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 529
	}
	return false
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
