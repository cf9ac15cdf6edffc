package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/ytsaurus/ytsaurus-harness/pkg/metrics"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultInitialInterval = 100 * time.Millisecond
	DefaultMaxInterval     = time.Second
	DefaultMultiplier      = 1.5
)

// WaitFailed is returned when a predicate did not hold within the timeout.
type WaitFailed struct {
	Description string
	Elapsed     time.Duration
	Attempts    int
	// LastValue is the last value observed by WaitValue or recorded with Observe.
	LastValue any
	// LastErr is the last error returned by the predicate.
	LastErr error
	// Messages and Stack come from the last failed WaitAssert check.
	Messages []string
	Stack    string
}

func (e *WaitFailed) Error() string {
	msg := fmt.Sprintf("wait failed after %v (%d attempts)", e.Elapsed.Round(time.Millisecond), e.Attempts)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.LastValue != nil {
		msg += fmt.Sprintf("; last value: %v", e.LastValue)
	}
	for _, m := range e.Messages {
		msg += "\n" + m
	}
	if e.LastErr != nil {
		msg += "; last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *WaitFailed) Unwrap() error { return e.LastErr }

func (e *WaitFailed) ErrorKind() yterrs.Kind { return yterrs.KindWaitFailed }

type options struct {
	timeout      time.Duration
	newBackOff   func() backoff.BackOff
	ignoreErrors bool
	description  string
}

type Option func(*options)

func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

// WithBackOff sets the polling schedule. The factory is called once per wait.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(o *options) { o.newBackOff = newBackOff }
}

// WithInterval polls at a constant interval.
func WithInterval(interval time.Duration) Option {
	return WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(interval) })
}

// IgnoreErrors treats predicate errors as "not yet".
func IgnoreErrors() Option {
	return func(o *options) { o.ignoreErrors = true }
}

func WithDescription(format string, args ...any) Option {
	return func(o *options) { o.description = fmt.Sprintf(format, args...) }
}

// DefaultBackOff is geometric with a cap and never gives up on its own.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultInitialInterval
	b.MaxInterval = DefaultMaxInterval
	b.Multiplier = DefaultMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func buildOptions(opts []Option) options {
	o := options{
		timeout:    DefaultTimeout,
		newBackOff: DefaultBackOff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Observer lets a predicate record the value it looked at, so a timeout
// reports it.
type Observer struct {
	last any
}

func (o *Observer) Observe(v any) { o.last = v }

// Stop wraps err so that polling ends with it even under IgnoreErrors.
func Stop(err error) error {
	return backoff.Permanent(err)
}

// Wait polls predicate until it returns true or the timeout expires.
// Without IgnoreErrors the first predicate error is returned as is.
func Wait(ctx context.Context, predicate func(ctx context.Context) (bool, error), opts ...Option) error {
	o := buildOptions(opts)
	_, err := poll(ctx, o, func(ctx context.Context, _ *Observer) (bool, error) {
		return predicate(ctx)
	})
	return err
}

// WaitObserved is Wait with an Observer for reporting the last value.
func WaitObserved(ctx context.Context, predicate func(ctx context.Context, obs *Observer) (bool, error), opts ...Option) error {
	o := buildOptions(opts)
	_, err := poll(ctx, o, predicate)
	return err
}

// WaitValue polls get until cond holds for its result and returns that value.
func WaitValue[T any](ctx context.Context, get func(ctx context.Context) (T, error), cond func(T) bool, opts ...Option) (T, error) {
	o := buildOptions(opts)
	var result T
	_, err := poll(ctx, o, func(ctx context.Context, obs *Observer) (bool, error) {
		v, err := get(ctx)
		if err != nil {
			return false, err
		}
		obs.Observe(v)
		if cond(v) {
			result = v
			return true, nil
		}
		return false, nil
	})
	return result, err
}

func poll(ctx context.Context, o options, predicate func(ctx context.Context, obs *Observer) (bool, error)) (int, error) {
	logger := logr.FromContextOrDiscard(ctx)
	start := time.Now()
	deadline := start.Add(o.timeout)
	b := o.newBackOff()
	obs := &Observer{}
	attempts := 0
	var lastErr error

	for {
		attempts++
		ok, err := predicate(ctx, obs)
		if err != nil {
			var permanent *backoff.PermanentError
			if errors.As(err, &permanent) {
				metrics.ObserveWait("error", attempts)
				return attempts, permanent.Err
			}
			if !o.ignoreErrors {
				metrics.ObserveWait("error", attempts)
				return attempts, err
			}
			lastErr = err
		} else if ok {
			metrics.ObserveWait("ok", attempts)
			return attempts, nil
		}

		next := b.NextBackOff()
		now := time.Now()
		if next == backoff.Stop || !now.Before(deadline) {
			break
		}
		if remaining := deadline.Sub(now); next > remaining {
			next = remaining
		}
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.ObserveWait("canceled", attempts)
			return attempts, errors.Join(ctx.Err(), &WaitFailed{
				Description: o.description,
				Elapsed:     time.Since(start),
				Attempts:    attempts,
				LastValue:   obs.last,
				LastErr:     lastErr,
			})
		case <-timer.C:
		}
	}

	metrics.ObserveWait("timeout", attempts)
	failed := &WaitFailed{
		Description: o.description,
		Elapsed:     time.Since(start),
		Attempts:    attempts,
		LastValue:   obs.last,
		LastErr:     lastErr,
	}
	logger.V(1).Info("Wait timed out", "description", o.description, "attempts", attempts)
	return attempts, failed
}
