package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectPlatform(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url  string
		want Platform
	}{
		{"https://github.com/octocat", PlatformGitHub},
		{"https://www.github.com/octocat", PlatformGitHub},
		{"https://gist.github.com/octocat", PlatformGitHub},
		{"https://x.com/someuser", PlatformTwitter},
		{"https://www.instagram.com/someuser/", PlatformInstagram},
		{"https://de.linkedin.com/in/someuser", PlatformLinkedIn},
		{"https://example.com/profile", PlatformGeneric},
		{"not a url", PlatformGeneric},
		{"", PlatformGeneric},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, DetectPlatform(tc.url), "url=%q", tc.url)
	}
}

func TestKnownPlatform(t *testing.T) {
	t.Parallel()

	require.True(t, KnownPlatform(PlatformGitHub))
	require.True(t, KnownPlatform(PlatformMastodon))
	require.False(t, KnownPlatform(PlatformGeneric))
	require.False(t, KnownPlatform(Platform("friendster")))
}

func TestRequiresHeadless(t *testing.T) {
	t.Parallel()

	require.True(t, RequiresHeadless(PlatformInstagram))
	require.False(t, RequiresHeadless(PlatformGitHub))
}

func TestValidTargetURL(t *testing.T) {
	t.Parallel()

	require.True(t, ValidTargetURL("https://github.com/octocat"))
	require.True(t, ValidTargetURL("http://example.com"))
	require.False(t, ValidTargetURL("ftp://example.com"))
	require.False(t, ValidTargetURL("github.com/octocat"))
	require.False(t, ValidTargetURL(""))
}
