package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffPolicyRetryCeiling(t *testing.T) {
	t.Parallel()

	p := NewBackoffPolicy(5 * time.Second)

	require.True(t, p.Decide(0, 3, FailureTimeout).Requeue)
	require.True(t, p.Decide(2, 3, FailureTimeout).Requeue)
	require.False(t, p.Decide(3, 3, FailureTimeout).Requeue)
	require.False(t, p.Decide(0, 0, FailureTimeout).Requeue)
}

func TestBackoffPolicyDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	base := 5 * time.Second
	p := NewBackoffPolicy(base)

	// Jittered delay lands in [expected/2, expected).
	for attempt, expected := range []time.Duration{base, 2 * base, 4 * base} {
		d := p.Decide(attempt, 10, FailureTimeout)
		require.True(t, d.Requeue)
		require.GreaterOrEqual(t, d.Delay, expected/2, "attempt %d", attempt)
		require.Less(t, d.Delay, expected, "attempt %d", attempt)
	}

	capped := p.Decide(20, 100, FailureTimeout)
	require.Less(t, capped.Delay, 5*time.Minute)
}

func TestBackoffPolicyBlockedBiasesLonger(t *testing.T) {
	t.Parallel()

	p := NewBackoffPolicy(5 * time.Second)

	timeout := p.Decide(0, 3, FailureTimeout)
	blocked := p.Decide(0, 3, FailureBlocked)
	// blocked floor (4x/2) sits above the timeout ceiling (1x).
	require.GreaterOrEqual(t, blocked.Delay, 2*timeout.Delay)
}
