package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osintwatch/scrapeworker/internal/scraper"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newQueuedJob(t *testing.T, store *JobStore, id string) {
	t.Helper()
	err := store.CreateJob(context.Background(), scraper.Job{
		ID:        id,
		TargetURL: "https://github.com/octocat",
	})
	require.NoError(t, err)
}

func TestClaimIsExclusiveUnderRace(t *testing.T) {
	t.Parallel()

	store := NewJobStore(newFakeClock())
	newQueuedJob(t, store, "job-1")

	const claimants = 16
	var wg sync.WaitGroup
	winners := make(chan string, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			jobs, err := store.Claim(context.Background(), worker, 1)
			require.NoError(t, err)
			if len(jobs) > 0 {
				winners <- worker
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
	close(winners)

	var won []string
	for w := range winners {
		won = append(won, w)
	}
	require.Len(t, won, 1, "exactly one claimant must win the row")

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusProcessing, job.Status)
	require.Equal(t, won[0], job.ClaimedBy)
}

func TestClaimOrdersOldestFirstAndHonorsBackoffGate(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewJobStore(clock)

	newQueuedJob(t, store, "old")
	clock.Advance(time.Second)
	newQueuedJob(t, store, "new")

	jobs, err := store.Claim(context.Background(), "w", 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "old", jobs[0].ID)

	// Requeue with delay: ineligible until the gate passes.
	require.NoError(t, store.RequeueForRetry(context.Background(), "old", "timeout", 30*time.Second))
	jobs, err = store.Claim(context.Background(), "w", 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "new", jobs[0].ID)

	clock.Advance(31 * time.Second)
	jobs, err = store.Claim(context.Background(), "w", 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "old", jobs[0].ID)
}

func TestTerminalRowsAreImmutable(t *testing.T) {
	t.Parallel()

	store := NewJobStore(newFakeClock())
	newQueuedJob(t, store, "job-1")

	_, err := store.Claim(context.Background(), "w", 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(context.Background(), "job-1", scraper.Payload{
		Profile: scraper.Profile{Username: "octocat"},
	}))

	require.ErrorIs(t, store.MarkFailed(context.Background(), "job-1", "late"), scraper.ErrClaimLost)
	require.ErrorIs(t, store.MarkCompleted(context.Background(), "job-1", scraper.Payload{}), scraper.ErrClaimLost)
	require.ErrorIs(t, store.RequeueForRetry(context.Background(), "job-1", "late", 0), scraper.ErrClaimLost)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCompleted, job.Status)
	require.Equal(t, "octocat", job.ScrapedData.Profile.Username)
}

func TestRequeueRespectsRetryCeiling(t *testing.T) {
	t.Parallel()

	store := NewJobStore(newFakeClock())
	err := store.CreateJob(context.Background(), scraper.Job{
		ID:         "job-1",
		TargetURL:  "https://example.com",
		MaxRetries: 1,
	})
	require.NoError(t, err)

	_, err = store.Claim(context.Background(), "w", 1)
	require.NoError(t, err)
	require.NoError(t, store.RequeueForRetry(context.Background(), "job-1", "timeout", 0))

	_, err = store.Claim(context.Background(), "w", 1)
	require.NoError(t, err)
	// retry_count == max_retries: the requeue transition is no longer legal.
	require.ErrorIs(t, store.RequeueForRetry(context.Background(), "job-1", "timeout", 0), scraper.ErrClaimLost)
}

func TestReclaimStale(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewJobStore(clock)

	newQueuedJob(t, store, "fresh")
	newQueuedJob(t, store, "stale")
	err := store.CreateJob(context.Background(), scraper.Job{
		ID:         "exhausted",
		TargetURL:  "https://example.com",
		MaxRetries: 1,
	})
	require.NoError(t, err)

	_, err = store.Claim(context.Background(), "dead-worker", 3)
	require.NoError(t, err)
	require.NoError(t, store.RequeueForRetry(context.Background(), "exhausted", "timeout", 0))
	_, err = store.Claim(context.Background(), "dead-worker", 1)
	require.NoError(t, err)

	// "fresh" gets touched again just before the reclaim pass.
	clock.Advance(9 * time.Minute)
	require.NoError(t, store.MarkCompleted(context.Background(), "fresh", scraper.Payload{}))
	clock.Advance(2 * time.Minute)

	requeued, failed, err := store.ReclaimStale(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)
	require.Equal(t, 1, failed)

	stale, err := store.GetJob(context.Background(), "stale")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusQueued, stale.Status)
	require.Equal(t, 1, stale.RetryCount)
	require.Empty(t, stale.ClaimedBy)

	exhausted, err := store.GetJob(context.Background(), "exhausted")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusFailed, exhausted.Status)
}
