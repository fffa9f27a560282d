package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osintwatch/scrapeworker/internal/scraper"
)

type namedAdapter struct {
	name string
}

func (a *namedAdapter) Scrape(context.Context, scraper.Job) (scraper.Payload, error) {
	return scraper.Payload{}, nil
}

func TestResolveOrder(t *testing.T) {
	t.Parallel()

	profile := &namedAdapter{name: "profile"}
	social := &namedAdapter{name: "social"}
	cloud := &namedAdapter{name: "cloud"}

	d := New(Config{
		Profile:        profile,
		Social:         social,
		Cloud:          cloud,
		CloudPlatforms: []scraper.Platform{scraper.PlatformTikTok},
	})

	cases := []struct {
		name string
		job  scraper.Job
		want scraper.Adapter
	}{
		{
			name: "explicit known platform",
			job:  scraper.Job{Platform: scraper.PlatformGitHub, TargetURL: "https://tiktok.com/@x"},
			want: profile,
		},
		{
			name: "unknown declared platform falls back to host inference",
			job:  scraper.Job{Platform: "friendster", TargetURL: "https://www.tiktok.com/@x"},
			want: cloud,
		},
		{
			name: "email search routes to social",
			job:  scraper.Job{SearchType: scraper.SearchTypeEmail, TargetURL: "https://example.com"},
			want: social,
		},
		{
			name: "unrecognized host falls back to generic profile",
			job:  scraper.Job{TargetURL: "https://smallforum.example/u/someone"},
			want: profile,
		},
		{
			name: "cloud-delegated platform",
			job:  scraper.Job{Platform: scraper.PlatformTikTok, TargetURL: "https://tiktok.com/@x"},
			want: cloud,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Same(t, tc.want, d.Resolve(tc.job))
		})
	}
}

func TestResolveWithoutCloudAdapter(t *testing.T) {
	t.Parallel()

	profile := &namedAdapter{name: "profile"}
	d := New(Config{
		Profile:        profile,
		CloudPlatforms: []scraper.Platform{scraper.PlatformTikTok},
	})

	got := d.Resolve(scraper.Job{Platform: scraper.PlatformTikTok, TargetURL: "https://tiktok.com/@x"})
	require.Same(t, profile, got)
}

func TestFixedResolver(t *testing.T) {
	t.Parallel()

	mock := &namedAdapter{name: "mock"}
	r := Fixed(mock)
	require.Same(t, mock, r.Resolve(scraper.Job{Platform: scraper.PlatformGitHub}))
	require.Same(t, mock, r.Resolve(scraper.Job{SearchType: scraper.SearchTypeEmail}))
}
