package scraper

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryDecision is the outcome of the backoff policy for one failure.
type RetryDecision struct {
	Requeue bool
	Delay   time.Duration
}

// BackoffPolicy decides requeue-vs-terminal-failure and the requeue delay.
// It is a pure function of (retryCount, maxRetries, failure kind).
type BackoffPolicy struct {
	baseDelay     time.Duration
	maxDelay      time.Duration
	blockedFactor int
}

// NewBackoffPolicy builds a policy with sane defaults: one poll tick of
// base delay, doubling per attempt, capped at five minutes. Blocked
// targets back off four times longer so the worker stops hammering a
// host that is actively rate limiting it.
func NewBackoffPolicy(baseDelay time.Duration) *BackoffPolicy {
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}
	return &BackoffPolicy{
		baseDelay:     baseDelay,
		maxDelay:      5 * time.Minute,
		blockedFactor: 4,
	}
}

// Decide returns whether the job should be requeued and after what delay.
// Once retryCount has reached maxRetries the job is never requeued.
func (p *BackoffPolicy) Decide(retryCount, maxRetries int, kind FailureKind) RetryDecision {
	if retryCount >= maxRetries {
		return RetryDecision{}
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(retryCount))
	if kind == FailureBlocked {
		delay *= float64(p.blockedFactor)
	}
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return RetryDecision{Requeue: true, Delay: half + randomJitter(half)}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
