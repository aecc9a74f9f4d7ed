package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/reelforge/api/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
)

// CallerOptions configures retries and the global outbound cap
type CallerOptions struct {
	MaxConcurrent   int64
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Caller wraps every outbound provider call with a process-wide concurrency
// cap, a per-provider circuit breaker, and bounded exponential retry.
type Caller struct {
	sem      *semaphore.Weighted
	opts     CallerOptions
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	log      *logrus.Entry
}

func NewCaller(opts CallerOptions) *Caller {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 4
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 20 * time.Second
	}
	return &Caller{
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		log:      logger.WithModule("client"),
	}
}

func (c *Caller) breaker(provider string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[provider]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// Only provider-side failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{"provider": name, "from": from.String(), "to": to.String()}).Warn("Circuit breaker state change")
		},
	})
	c.breakers[provider] = cb
	return cb
}

// Call runs fn with retries. Fatal errors return on the first attempt.
// The outbound slot is held only while fn runs, never across backoff sleeps.
func Call[T any](ctx context.Context, c *Caller, provider string, fn func(ctx context.Context) (T, error)) (T, error) {
	cb := c.breaker(provider)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.InitialInterval
	exp.MaxInterval = c.opts.MaxInterval

	attempt := 0
	op := func() (T, error) {
		attempt++
		var zero T

		if err := c.sem.Acquire(ctx, 1); err != nil {
			return zero, backoff.Permanent(err)
		}
		res, err := cb.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		c.sem.Release(1)

		if err == nil {
			return res.(T), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.log.WithField("provider", provider).Debug("Circuit open, backing off")
			return zero, err
		}
		if !IsRetryable(err) {
			return zero, backoff.Permanent(err)
		}
		c.log.WithError(err).WithFields(logrus.Fields{"provider": provider, "attempt": attempt}).Warn("Provider call failed, retrying")
		return zero, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(c.opts.MaxAttempts),
	)
}
