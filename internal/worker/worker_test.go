package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/osintwatch/scrapeworker/internal/adapters/mock"
	"github.com/osintwatch/scrapeworker/internal/clock/system"
	"github.com/osintwatch/scrapeworker/internal/dispatcher"
	mempub "github.com/osintwatch/scrapeworker/internal/publisher/memory"
	"github.com/osintwatch/scrapeworker/internal/scraper"
	memstore "github.com/osintwatch/scrapeworker/internal/store/memory"
)

const eventTopic = "job-events"

func testConfig() Config {
	return Config{
		PollInterval:    5 * time.Millisecond,
		Concurrency:     2,
		JobTimeout:      time.Second,
		ShutdownGrace:   100 * time.Millisecond,
		StaleClaimAfter: time.Minute,
		EventTopic:      eventTopic,
	}
}

func startWorker(t *testing.T, store scraper.JobStore, adapter scraper.Adapter, pub scraper.Publisher, cfg Config) (cancel func()) {
	t.Helper()
	w, err := New(
		"w-test",
		store,
		dispatcher.Fixed(adapter),
		scraper.NewBackoffPolicy(time.Millisecond),
		system.New(),
		pub,
		cfg,
		zap.NewNop(),
	)
	require.NoError(t, err)

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		<-done
	}
}

func seedJob(t *testing.T, store scraper.JobStore, id string, maxRetries int) scraper.Job {
	t.Helper()
	job := scraper.Job{
		ID:             id,
		TargetURL:      "https://github.com/octocat",
		TargetUsername: "octocat",
		Platform:       "github",
		SearchType:     scraper.SearchTypeUsername,
		MaxRetries:     maxRetries,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func waitForStatus(t *testing.T, store scraper.JobStore, id string, want scraper.JobStatus) scraper.Job {
	t.Helper()
	var got scraper.Job
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 3*time.Second, 5*time.Millisecond)
	return got
}

func TestRunRetriesThenCompletes(t *testing.T) {
	store := memstore.NewJobStore(system.New())
	adapter := mock.New(mock.Script{FailuresBeforeSuccess: 2})
	pub := mempub.New()
	seedJob(t, store, "job-1", 3)

	stop := startWorker(t, store, adapter, pub, testConfig())
	job := waitForStatus(t, store, "job-1", scraper.JobStatusCompleted)
	stop()

	require.Equal(t, 2, job.RetryCount)
	require.Empty(t, job.ErrorMessage)
	require.NotNil(t, job.ScrapedData)
	require.Equal(t, "octocat", job.ScrapedData.Profile.Username)
	require.Equal(t, int64(1337), job.ScrapedData.Stats["followers"])
	require.Equal(t, 3, adapter.Calls(job.TargetURL))

	events := pub.Messages(eventTopic)
	require.Len(t, events, 1)
	event, ok := events[0].Payload.(Event)
	require.True(t, ok)
	require.Equal(t, "job-1", event.JobID)
	require.Equal(t, scraper.JobStatusCompleted, event.Status)
	require.Equal(t, "github", event.Platform)
}

func TestRunFailsAfterExhaustingRetries(t *testing.T) {
	store := memstore.NewJobStore(system.New())
	adapter := mock.New(mock.Script{
		FailuresBeforeSuccess: 99,
		FailureKind:           scraper.FailureTimeout,
	})
	pub := mempub.New()
	seedJob(t, store, "job-1", 1)

	stop := startWorker(t, store, adapter, pub, testConfig())
	job := waitForStatus(t, store, "job-1", scraper.JobStatusFailed)
	stop()

	require.Equal(t, 1, job.RetryCount)
	require.Contains(t, job.ErrorMessage, "timeout")
	require.Nil(t, job.ScrapedData)
	require.Equal(t, 2, adapter.Calls(job.TargetURL))

	events := pub.Messages(eventTopic)
	require.Len(t, events, 1)
	event := events[0].Payload.(Event)
	require.Equal(t, scraper.JobStatusFailed, event.Status)
}

func TestRunFailsHardErrorWithoutRetry(t *testing.T) {
	store := memstore.NewJobStore(system.New())
	adapter := mock.New(mock.Script{HardError: errors.New("adapter exploded")})
	seedJob(t, store, "job-1", 3)

	stop := startWorker(t, store, adapter, mempub.New(), testConfig())
	job := waitForStatus(t, store, "job-1", scraper.JobStatusFailed)
	stop()

	require.Equal(t, 0, job.RetryCount)
	require.Contains(t, job.ErrorMessage, "adapter exploded")
	require.Equal(t, 1, adapter.Calls(job.TargetURL))
}

func TestRunTreatsUntranslatedDeadlineAsTimeout(t *testing.T) {
	store := memstore.NewJobStore(system.New())
	adapter := mock.New(mock.Script{Hang: true})
	seedJob(t, store, "job-1", 1)

	cfg := testConfig()
	cfg.JobTimeout = 15 * time.Millisecond
	stop := startWorker(t, store, adapter, mempub.New(), cfg)
	job := waitForStatus(t, store, "job-1", scraper.JobStatusFailed)
	stop()

	require.Equal(t, 1, job.RetryCount)
	require.Contains(t, job.ErrorMessage, "timeout")
}

func TestRunRequeuesInFlightJobOnShutdown(t *testing.T) {
	store := memstore.NewJobStore(system.New())
	adapter := mock.New(mock.Script{Hang: true})
	seedJob(t, store, "job-1", 3)

	cfg := testConfig()
	cfg.ShutdownGrace = 30 * time.Millisecond
	stop := startWorker(t, store, adapter, mempub.New(), cfg)
	waitForStatus(t, store, "job-1", scraper.JobStatusProcessing)
	stop()

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusQueued, job.Status)
	require.Equal(t, 1, job.RetryCount)
	require.Contains(t, job.ErrorMessage, "shut down")
}

func TestRunReclaimsStaleClaimsAtStartup(t *testing.T) {
	store := memstore.NewJobStore(system.New())
	adapter := mock.New(mock.Script{})
	seedJob(t, store, "job-1", 3)

	// Simulate a worker that died mid-claim.
	claimed, err := store.Claim(context.Background(), "w-dead", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	time.Sleep(20 * time.Millisecond)

	cfg := testConfig()
	cfg.StaleClaimAfter = time.Millisecond
	stop := startWorker(t, store, adapter, mempub.New(), cfg)
	job := waitForStatus(t, store, "job-1", scraper.JobStatusCompleted)
	stop()

	require.Equal(t, 1, job.RetryCount)
	require.Equal(t, "w-test", job.ClaimedBy)
}

func TestRunRespectsConcurrencyBound(t *testing.T) {
	store := memstore.NewJobStore(system.New())
	adapter := mock.New(mock.Script{Hang: true})
	for _, id := range []string{"job-1", "job-2", "job-3", "job-4"} {
		seedJob(t, store, id, 3)
	}

	cfg := testConfig()
	cfg.Concurrency = 2
	cfg.ShutdownGrace = 20 * time.Millisecond
	stop := startWorker(t, store, adapter, mempub.New(), cfg)
	defer stop()

	require.Eventually(t, func() bool {
		processing := 0
		for _, id := range []string{"job-1", "job-2", "job-3", "job-4"} {
			job, err := store.GetJob(context.Background(), id)
			if err == nil && job.Status == scraper.JobStatusProcessing {
				processing++
			}
		}
		return processing == 2
	}, 2*time.Second, 5*time.Millisecond)

	// With both slots held by hanging jobs, further polls claim nothing.
	time.Sleep(30 * time.Millisecond)
	processing := 0
	for _, id := range []string{"job-1", "job-2", "job-3", "job-4"} {
		job, err := store.GetJob(context.Background(), id)
		require.NoError(t, err)
		if job.Status == scraper.JobStatusProcessing {
			processing++
		}
	}
	require.Equal(t, 2, processing)
}
