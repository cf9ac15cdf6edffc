package yterrs

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryAction int

const (
	// RetryNever surfaces the error to the caller.
	RetryNever RetryAction = iota
	// RetryBackoff retries with capped exponential backoff.
	RetryBackoff
	// RetryOnce retries a single time.
	RetryOnce
	// RetryAfterCacheReset retries after dropping client metadata caches.
	RetryAfterCacheReset
)

func (a RetryAction) String() string {
	switch a {
	case RetryBackoff:
		return "backoff"
	case RetryOnce:
		return "once"
	case RetryAfterCacheReset:
		return "cache_reset"
	}
	return "never"
}

// ActionFor returns what the driver does with an error of the kind.
// Lock conflicts are retried only by helpers that opt in.
func ActionFor(kind Kind) RetryAction {
	switch kind {
	case KindRequestQueueSizeLimitExceeded,
		KindRequestRateLimitExceeded,
		KindRPCUnavailable,
		KindMasterCommunicationError,
		KindChunkUnavailable:
		return RetryBackoff
	case KindRequestTimedOut:
		return RetryOnce
	case KindTabletNotMounted, KindNoSuchTablet, KindTabletInIntermediateState:
		return RetryAfterCacheReset
	}
	return RetryNever
}

// RetryPolicy bounds driver-side retries.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	// MaxTabletRetries bounds retries after cache reset.
	MaxTabletRetries int
	// RetryLockConflicts enables retries of lock conflicts.
	RetryLockConflicts bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:  100 * time.Millisecond,
		MaxInterval:      5 * time.Second,
		MaxElapsedTime:   time.Minute,
		MaxTabletRetries: 3,
	}
}

// NewBackOff returns a fresh capped exponential backoff for the policy.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Reset()
	return b
}

// Action resolves the action for err under the policy.
func (p RetryPolicy) Action(err error) RetryAction {
	kind := Classify(err)
	if p.RetryLockConflicts && (kind == KindConcurrentTransactionLock || kind == KindTabletTransactionLockConflict) {
		return RetryBackoff
	}
	return ActionFor(kind)
}
