package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osintwatch/scrapeworker/internal/scraper"
)

func TestScrapeFailsThenSucceeds(t *testing.T) {
	t.Parallel()

	a := New(Script{FailuresBeforeSuccess: 2, FailureKind: scraper.FailureBlocked})
	job := scraper.Job{TargetURL: "https://github.com/octocat", TargetUsername: "octocat"}

	for i := 0; i < 2; i++ {
		_, err := a.Scrape(context.Background(), job)
		f, ok := scraper.AsFailure(err)
		require.True(t, ok)
		require.Equal(t, scraper.FailureBlocked, f.Kind)
	}

	payload, err := a.Scrape(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, "octocat", payload.Profile.Username)
	require.Equal(t, int64(1337), payload.Stats["followers"])
	require.Equal(t, 3, a.Calls(job.TargetURL))
}

func TestScrapePerTargetScriptOverridesDefault(t *testing.T) {
	t.Parallel()

	a := New(Script{})
	a.SetScript("https://x.com/gone", Script{
		FailuresBeforeSuccess: 99,
		FailureKind:           scraper.FailureNotFound,
	})

	_, err := a.Scrape(context.Background(), scraper.Job{TargetURL: "https://x.com/gone"})
	f, ok := scraper.AsFailure(err)
	require.True(t, ok)
	require.Equal(t, scraper.FailureNotFound, f.Kind)

	_, err = a.Scrape(context.Background(), scraper.Job{TargetURL: "https://x.com/alive"})
	require.NoError(t, err)
}

func TestScrapeHangHonorsContext(t *testing.T) {
	t.Parallel()

	a := New(Script{Hang: true})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Scrape(ctx, scraper.Job{TargetURL: "https://example.com"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
